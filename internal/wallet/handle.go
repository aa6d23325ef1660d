package wallet

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
)

// Handle is an unlocked signing account. It holds raw key material and must be
// zeroed once the owning approval flow terminates.
type Handle struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// Zero wipes the private scalar. The handle is unusable afterwards.
func (h *Handle) Zero() {
	if h == nil || h.Key == nil {
		return
	}
	if h.Key.D != nil {
		h.Key.D.SetInt64(0)
	}
	h.Key = nil
}

// UnlockResult is the completion event the unlocker sub-machine emits for each
// submitted passphrase attempt.
type UnlockResult struct {
	Handle *Handle
	Err    error
}
