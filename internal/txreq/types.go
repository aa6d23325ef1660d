package txreq

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Request is the unsigned transaction pending approval. GasPrice is written in
// by the approval machine once the gas-price stage completes; everything else
// comes from the start command.
type Request struct {
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *big.Int       `json:"value"`
	Data     []byte         `json:"data,omitempty"`
	Gas      uint64         `json:"gas"`
	GasPrice *big.Int       `json:"gas_price,omitempty"`
	Nonce    uint64         `json:"nonce"`
}

// Validate checks the preconditions every collaborator relies on.
func (r *Request) Validate() error {
	if r == nil {
		return errors.New("transaction request is nil")
	}
	if r.From == (common.Address{}) {
		return errors.New("transaction request missing sender address")
	}
	if r.To == (common.Address{}) && len(r.Data) == 0 {
		return errors.New("transaction request has neither recipient nor payload")
	}
	if r.Value == nil {
		return errors.New("transaction request missing value")
	}
	return nil
}

// Clone returns a deep copy. Snapshots handed to API consumers must never
// alias a request the machine is still writing to.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	if r.Value != nil {
		out.Value = new(big.Int).Set(r.Value)
	}
	if r.GasPrice != nil {
		out.GasPrice = new(big.Int).Set(r.GasPrice)
	}
	if r.Data != nil {
		out.Data = append([]byte(nil), r.Data...)
	}
	return &out
}

// Account is a resolved on-chain account with its loaded balance.
type Account struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
	Nonce   uint64         `json:"nonce"`
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Balance != nil {
		out.Balance = new(big.Int).Set(a.Balance)
	}
	return &out
}

// ApprovedTx is the handle of a transaction accepted by the network.
type ApprovedTx struct {
	Hash common.Hash `json:"hash"`
	Raw  string      `json:"raw"` // RLP-encoded signed tx, 0x-hex
}

// Redis key templates
const (
	FlowKeyFmt    = "approval:flow:%s" // %s = flow ID
	FlowKeyPrefix = "approval:flow:"
)
