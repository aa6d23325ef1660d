// Package wallet provides keystore-backed wallet unlocking.
//
// The Unlocker is a small sub-machine: the approval machine owns one per flow,
// forwards unlock-wallet commands to it verbatim, and observes only the
// completion results. Decryption runs on the unlocker's own goroutine so a
// slow scrypt pass never blocks command handling in the parent.
package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Unlocker decrypts the keystore file for a single address.
type Unlocker struct {
	dir     string
	address common.Address
	reqs    chan string
	results chan UnlockResult
	quit    chan struct{}
	log     *zap.Logger
}

// NewUnlocker starts the unlock loop for the given keystore directory and
// account address. The caller owns the unlocker and must Close it.
func NewUnlocker(dir string, address common.Address, log *zap.Logger) *Unlocker {
	u := &Unlocker{
		dir:     dir,
		address: address,
		reqs:    make(chan string, 1),
		results: make(chan UnlockResult, 1),
		quit:    make(chan struct{}),
		log:     log,
	}
	go u.loop()
	return u
}

// Submit forwards a passphrase attempt to the unlock loop. Attempts submitted
// while one is in flight are dropped; the parent retries off the result.
func (u *Unlocker) Submit(passphrase string) {
	select {
	case u.reqs <- passphrase:
	case <-u.quit:
	default:
	}
}

// Results is the completion channel the owning machine observes.
func (u *Unlocker) Results() <-chan UnlockResult {
	return u.results
}

// Close stops the unlock loop.
func (u *Unlocker) Close() {
	select {
	case <-u.quit:
	default:
		close(u.quit)
	}
}

func (u *Unlocker) loop() {
	for {
		select {
		case passphrase := <-u.reqs:
			h, err := u.unlock(passphrase)
			if err != nil {
				u.log.Warn("wallet unlock failed",
					zap.String("address", u.address.Hex()),
					zap.Error(err),
				)
			}
			select {
			case u.results <- UnlockResult{Handle: h, Err: err}:
			case <-u.quit:
				return
			}
		case <-u.quit:
			return
		}
	}
}

func (u *Unlocker) unlock(passphrase string) (*Handle, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is empty")
	}
	path, err := u.findKeyFile()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := keystore.DecryptKey(raw, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	if key.Address != u.address {
		key.PrivateKey.D.SetInt64(0)
		return nil, fmt.Errorf("key file address %s does not match %s", key.Address.Hex(), u.address.Hex())
	}
	return &Handle{Address: key.Address, Key: key.PrivateKey}, nil
}

// findKeyFile scans the keystore directory for the JSON file whose address
// field matches the unlocker's account.
func (u *Unlocker) findKeyFile() (string, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return "", fmt.Errorf("read keystore dir: %w", err)
	}
	want := strings.ToLower(strings.TrimPrefix(u.address.Hex(), "0x"))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(u.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if strings.EqualFold(meta.Address, want) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no key file for %s in %s", u.address.Hex(), u.dir)
}

// CreateAccount generates a new keystore account encrypted with the given
// passphrase and returns its address.
func CreateAccount(dir, passphrase string) (common.Address, error) {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	acct, err := ks.NewAccount(passphrase)
	if err != nil {
		return common.Address{}, fmt.Errorf("new account: %w", err)
	}
	return acct.Address, nil
}
