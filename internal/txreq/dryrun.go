package txreq

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorGroup buckets dry-run validation errors by category for display.
type ErrorGroup string

const (
	GroupInsufficientFunds ErrorGroup = "insufficient_funds"
	GroupExecutionReverted ErrorGroup = "execution_reverted"
	GroupInvalidNonce      ErrorGroup = "invalid_nonce"
	GroupRPC               ErrorGroup = "rpc"
)

// DryRunErrors carries the grouped validation errors produced by a transaction
// dry run. It implements error so the simulator can return it through the
// uniform collaborator contract.
type DryRunErrors struct {
	Groups map[ErrorGroup][]string `json:"groups"`
}

func NewDryRunErrors() *DryRunErrors {
	return &DryRunErrors{Groups: make(map[ErrorGroup][]string)}
}

// Add appends a message under the given group.
func (d *DryRunErrors) Add(group ErrorGroup, msg string) {
	d.Groups[group] = append(d.Groups[group], msg)
}

// Clone returns a deep copy.
func (d *DryRunErrors) Clone() *DryRunErrors {
	if d == nil {
		return nil
	}
	out := NewDryRunErrors()
	for g, msgs := range d.Groups {
		out.Groups[g] = append([]string(nil), msgs...)
	}
	return out
}

// Empty reports whether no errors were recorded.
func (d *DryRunErrors) Empty() bool {
	return d == nil || len(d.Groups) == 0
}

func (d *DryRunErrors) Error() string {
	if d.Empty() {
		return "dry run failed"
	}
	groups := make([]string, 0, len(d.Groups))
	for g := range d.Groups {
		groups = append(groups, string(g))
	}
	sort.Strings(groups)
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, fmt.Sprintf("%s: %s", g, strings.Join(d.Groups[ErrorGroup(g)], "; ")))
	}
	return "dry run failed: " + strings.Join(parts, " | ")
}

// ClassifyRPCError buckets a raw node error message into a dry-run group.
// Matching is substring-based on the messages geth-family nodes return.
func ClassifyRPCError(msg string) ErrorGroup {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "insufficient balance"):
		return GroupInsufficientFunds
	case strings.Contains(lower, "execution reverted"),
		strings.Contains(lower, "revert"):
		return GroupExecutionReverted
	case strings.Contains(lower, "nonce too low"),
		strings.Contains(lower, "nonce too high"),
		strings.Contains(lower, "replacement transaction"):
		return GroupInvalidNonce
	default:
		return GroupRPC
	}
}
