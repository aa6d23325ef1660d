// Package auth authenticates API callers by their wallet signature
// (personal_sign / EIP-191), with Redis-backed nonce replay protection.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashPersonalMessage builds the EIP-191 prefixed digest:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func HashPersonalMessage(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// RecoverSigner extracts the signer address from a personal_sign signature.
// sig must be 65 bytes (R || S || V) with V in {0,1} or {27,28}.
func RecoverSigner(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("signature must be 65 bytes")
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(HashPersonalMessage(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignMessage produces a personal_sign signature with V in {27,28}, the
// form wallets emit. Used by the CLI and tests to build auth headers.
func SignMessage(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(HashPersonalMessage(msg), key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
