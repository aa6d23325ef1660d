package approval

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/signet-labs/approvald/internal/txreq"
)

// Fatal validation errors returned by Start. These signal caller bugs, not
// recoverable machine states: the machine never leaves idle when one occurs.
var (
	ErrMissingTransaction = errors.New("start request missing transaction request")
	ErrMissingAddress     = errors.New("start request missing account address")
	ErrMissingProviderURL = errors.New("start request missing provider URL")
	ErrMissingOrigin      = errors.New("start request missing origin")

	// ErrTerminated is returned for commands issued after a terminal state.
	ErrTerminated = errors.New("approval machine already terminated")
)

// RejectionMessage is the fixed error message a user rejection stores.
const RejectionMessage = "user rejected the transaction"

// StartInput is the start-request record.
type StartInput struct {
	TransactionRequest *txreq.Request `json:"transaction_request"`
	Address            common.Address `json:"address"`
	ProviderURL        string         `json:"provider_url"`
	Origin             string         `json:"origin,omitempty"`
}

func (in StartInput) validate(originRequired bool) error {
	if in.TransactionRequest == nil {
		return ErrMissingTransaction
	}
	if in.Address == (common.Address{}) {
		return ErrMissingAddress
	}
	if in.ProviderURL == "" {
		return ErrMissingProviderURL
	}
	if originRequired && in.Origin == "" {
		return ErrMissingOrigin
	}
	return nil
}

// Input is the request half of the machine context. Account is filled in once
// the fetch stage completes; TransactionRequest is mutable (the gas-price stage
// writes into it).
type Input struct {
	Origin             string         `json:"origin,omitempty"`
	Address            common.Address `json:"address"`
	IsOriginRequired   bool           `json:"is_origin_required"`
	ProviderURL        string         `json:"provider_url"`
	TransactionRequest *txreq.Request `json:"transaction_request,omitempty"`
	Account            *txreq.Account `json:"account,omitempty"`
}

// Response is the result half of the machine context.
type Response struct {
	Receipts   []txreq.Receipt   `json:"receipts,omitempty"`
	ApprovedTx *txreq.ApprovedTx `json:"approved_tx,omitempty"`
}

// Errors holds at most one error per stage.
type Errors struct {
	Unlock     string              `json:"unlock,omitempty"`
	Submission string              `json:"submission,omitempty"`
	DryRun     *txreq.DryRunErrors `json:"dry_run,omitempty"`
}

// Context is the machine's working memory. One machine instance owns its
// context exclusively; it is replaced wholesale only on a reset back to idle.
type Context struct {
	Input            Input    `json:"input"`
	Response         Response `json:"response"`
	Errors           Errors   `json:"errors"`
	DisableAutoClose bool     `json:"disable_auto_close"`
}

// clone deep-copies the context so a handed-out snapshot never aliases state
// the machine keeps writing to.
func (c *Context) clone() Context {
	out := *c
	out.Input.TransactionRequest = c.Input.TransactionRequest.Clone()
	out.Input.Account = c.Input.Account.Clone()
	out.Response.Receipts = txreq.CloneReceipts(c.Response.Receipts)
	if c.Response.ApprovedTx != nil {
		tx := *c.Response.ApprovedTx
		out.Response.ApprovedTx = &tx
	}
	out.Errors.DryRun = c.Errors.DryRun.Clone()
	return out
}

func newContext(originRequired, disableAutoClose bool) *Context {
	return &Context{
		Input:            Input{IsOriginRequired: originRequired},
		DisableAutoClose: disableAutoClose,
	}
}
