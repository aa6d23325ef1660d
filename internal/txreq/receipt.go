package txreq

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReceiptKind tags the effect a simulated transaction produces.
type ReceiptKind string

const (
	ReceiptDebit  ReceiptKind = "debit"
	ReceiptCredit ReceiptKind = "credit"
	ReceiptGasFee ReceiptKind = "gas_fee"
)

// Receipt is one expected effect of a transaction, produced by the dry run.
// BalanceBefore/BalanceAfter are the account's wei balance around the effect.
type Receipt struct {
	Kind          ReceiptKind    `json:"kind"`
	Account       common.Address `json:"account"`
	Amount        *big.Int       `json:"amount"`
	BalanceBefore *big.Int       `json:"balance_before,omitempty"`
	BalanceAfter  *big.Int       `json:"balance_after,omitempty"`
}

// CloneReceipts deep-copies a receipt slice, including the big.Int amounts.
func CloneReceipts(rs []Receipt) []Receipt {
	if rs == nil {
		return nil
	}
	out := make([]Receipt, len(rs))
	for i, r := range rs {
		out[i] = r
		if r.Amount != nil {
			out[i].Amount = new(big.Int).Set(r.Amount)
		}
		if r.BalanceBefore != nil {
			out[i].BalanceBefore = new(big.Int).Set(r.BalanceBefore)
		}
		if r.BalanceAfter != nil {
			out[i].BalanceAfter = new(big.Int).Set(r.BalanceAfter)
		}
	}
	return out
}

// BuildTransferReceipts derives the expected receipts for a plain value
// transfer from the sender's and recipient's current balances. fee is
// gasLimit * gasPrice; a nil gas price yields a zero fee receipt.
func BuildTransferReceipts(req *Request, senderBalance, recipientBalance *big.Int) []Receipt {
	fee := new(big.Int)
	if req.GasPrice != nil {
		fee.Mul(req.GasPrice, new(big.Int).SetUint64(req.Gas))
	}

	senderAfter := new(big.Int).Sub(senderBalance, req.Value)
	senderAfter.Sub(senderAfter, fee)

	receipts := []Receipt{
		{
			Kind:          ReceiptDebit,
			Account:       req.From,
			Amount:        new(big.Int).Set(req.Value),
			BalanceBefore: new(big.Int).Set(senderBalance),
			BalanceAfter:  senderAfter,
		},
		{
			Kind:    ReceiptGasFee,
			Account: req.From,
			Amount:  fee,
		},
	}

	if req.To != (common.Address{}) {
		receipts = append(receipts, Receipt{
			Kind:          ReceiptCredit,
			Account:       req.To,
			Amount:        new(big.Int).Set(req.Value),
			BalanceBefore: new(big.Int).Set(recipientBalance),
			BalanceAfter:  new(big.Int).Add(recipientBalance, req.Value),
		})
	}
	return receipts
}
