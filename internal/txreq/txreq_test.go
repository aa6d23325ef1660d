package txreq

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	sender    = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	recipient = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func TestRequestValidate(t *testing.T) {
	valid := func() *Request {
		return &Request{From: sender, To: recipient, Value: big.NewInt(100)}
	}

	tests := []struct {
		name    string
		req     *Request
		wantErr string
	}{
		{"nil request", nil, "nil"},
		{"missing sender", &Request{To: recipient, Value: big.NewInt(1)}, "sender"},
		{"no recipient, no payload", &Request{From: sender, Value: big.NewInt(1)}, "neither recipient nor payload"},
		{"missing value", &Request{From: sender, To: recipient}, "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
}

func TestRequestValidate_DeployWithoutRecipient(t *testing.T) {
	req := &Request{From: sender, Value: big.NewInt(0), Data: []byte{0x60, 0x80}}
	if err := req.Validate(); err != nil {
		t.Errorf("deploy request rejected: %v", err)
	}
}

func TestBuildTransferReceipts(t *testing.T) {
	req := &Request{
		From:     sender,
		To:       recipient,
		Value:    big.NewInt(1_000),
		Gas:      21_000,
		GasPrice: big.NewInt(2),
	}
	receipts := BuildTransferReceipts(req, big.NewInt(100_000), big.NewInt(50))

	if len(receipts) != 3 {
		t.Fatalf("receipt count: got %d, want 3", len(receipts))
	}

	debit := receipts[0]
	if debit.Kind != ReceiptDebit || debit.Account != sender {
		t.Errorf("debit receipt: %+v", debit)
	}
	// 100_000 - 1_000 - 21_000*2
	if want := big.NewInt(57_000); debit.BalanceAfter.Cmp(want) != 0 {
		t.Errorf("sender balance after: got %s, want %s", debit.BalanceAfter, want)
	}

	fee := receipts[1]
	if fee.Kind != ReceiptGasFee || fee.Amount.Cmp(big.NewInt(42_000)) != 0 {
		t.Errorf("gas fee receipt: %+v", fee)
	}

	credit := receipts[2]
	if credit.Kind != ReceiptCredit || credit.Account != recipient {
		t.Errorf("credit receipt: %+v", credit)
	}
	if want := big.NewInt(1_050); credit.BalanceAfter.Cmp(want) != 0 {
		t.Errorf("recipient balance after: got %s, want %s", credit.BalanceAfter, want)
	}
}

func TestBuildTransferReceipts_NilGasPrice(t *testing.T) {
	req := &Request{From: sender, To: recipient, Value: big.NewInt(10), Gas: 21_000}
	receipts := BuildTransferReceipts(req, big.NewInt(100), big.NewInt(0))

	if receipts[1].Amount.Sign() != 0 {
		t.Errorf("fee without gas price: got %s, want 0", receipts[1].Amount)
	}
	if want := big.NewInt(90); receipts[0].BalanceAfter.Cmp(want) != 0 {
		t.Errorf("sender balance after: got %s, want %s", receipts[0].BalanceAfter, want)
	}
}

func TestBuildTransferReceipts_NoRecipient(t *testing.T) {
	req := &Request{From: sender, Value: big.NewInt(0), Data: []byte{0x01}, Gas: 50_000, GasPrice: big.NewInt(1)}
	receipts := BuildTransferReceipts(req, big.NewInt(100_000), nil)

	if len(receipts) != 2 {
		t.Fatalf("receipt count for deploy: got %d, want 2", len(receipts))
	}
	for _, r := range receipts {
		if r.Kind == ReceiptCredit {
			t.Error("credit receipt emitted without recipient")
		}
	}
}

func TestDryRunErrors(t *testing.T) {
	d := NewDryRunErrors()
	if !d.Empty() {
		t.Error("fresh DryRunErrors not empty")
	}

	d.Add(GroupInsufficientFunds, "balance too low")
	d.Add(GroupRPC, "connection refused")
	if d.Empty() {
		t.Error("populated DryRunErrors reported empty")
	}

	msg := d.Error()
	for _, part := range []string{"insufficient_funds", "balance too low", "rpc", "connection refused"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}

	var nilErrs *DryRunErrors
	if !nilErrs.Empty() {
		t.Error("nil DryRunErrors not empty")
	}
}

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorGroup
	}{
		{"insufficient funds for gas * price + value", GroupInsufficientFunds},
		{"Insufficient balance to pay for gas", GroupInsufficientFunds},
		{"execution reverted: ERC20: transfer amount exceeds balance", GroupExecutionReverted},
		{"always failing transaction (revert)", GroupExecutionReverted},
		{"nonce too low", GroupInvalidNonce},
		{"nonce too high", GroupInvalidNonce},
		{"replacement transaction underpriced", GroupInvalidNonce},
		{"dial tcp: connection refused", GroupRPC},
	}
	for _, tt := range tests {
		if got := ClassifyRPCError(tt.msg); got != tt.want {
			t.Errorf("ClassifyRPCError(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}
