// Package server hosts approval flows behind the HTTP API: one approval
// machine per in-flight transaction request, tracked in memory and mirrored
// into the Redis registry.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/signet-labs/approvald/internal/approval"
	"github.com/signet-labs/approvald/internal/chain"
	"github.com/signet-labs/approvald/internal/notify"
	"github.com/signet-labs/approvald/internal/registry"
	"github.com/signet-labs/approvald/internal/txreq"
	"github.com/signet-labs/approvald/internal/wallet"
)

var ErrFlowNotFound = errors.New("approval flow not found")

// terminalRetention is how long a terminated flow stays resident in memory
// before eviction. The registry record keeps serving reads afterwards.
const terminalRetention = 30 * time.Second

// CreateRequest is the start-request record accepted by POST /approvals.
type CreateRequest struct {
	Address          string         `json:"address"`
	ProviderURL      string         `json:"provider_url"`
	Origin           string         `json:"origin,omitempty"`
	IsOriginRequired bool           `json:"is_origin_required,omitempty"`
	DisableAutoClose bool           `json:"disable_auto_close,omitempty"`
	CallbackURL      string         `json:"callback_url,omitempty"`
	Transaction      *txreq.Request `json:"transaction"`
}

type flow struct {
	id          string
	address     common.Address
	callbackURL string
	machine     *approval.Machine
	cancel      context.CancelFunc
	updates     chan stateUpdate
}

// stateUpdate is one transition queued for the flow's registry worker.
type stateUpdate struct {
	state  approval.State
	txHash string
	errMsg string
}

// Manager owns all live approval flows.
type Manager struct {
	baseCtx        context.Context
	onchain        *chain.Client
	rdb            *redis.Client
	notifier       *notify.Client
	keystoreDir    string
	idleTimeout    time.Duration
	retainTerminal time.Duration
	log            *zap.Logger

	mu    sync.RWMutex
	flows map[string]*flow
}

func NewManager(
	baseCtx context.Context,
	onchain *chain.Client,
	rdb *redis.Client,
	notifier *notify.Client,
	keystoreDir string,
	idleTimeout time.Duration,
	log *zap.Logger,
) *Manager {
	return &Manager{
		baseCtx:        baseCtx,
		onchain:        onchain,
		rdb:            rdb,
		notifier:       notifier,
		keystoreDir:    keystoreDir,
		idleTimeout:    idleTimeout,
		retainTerminal: terminalRetention,
		log:            log,
		flows:          make(map[string]*flow),
	}
}

// Create spins up a machine for the request and issues its start command.
// A start-validation failure tears the flow down again and is returned to the
// caller (HTTP 400).
func (mg *Manager) Create(req CreateRequest) (string, error) {
	id, err := newFlowID()
	if err != nil {
		return "", err
	}

	address := common.HexToAddress(req.Address)
	flowCtx, cancel := context.WithCancel(mg.baseCtx)

	f := &flow{
		id:          id,
		address:     address,
		callbackURL: req.CallbackURL,
		cancel:      cancel,
		updates:     make(chan stateUpdate, 32),
	}

	unlocker := wallet.NewUnlocker(mg.keystoreDir, address, mg.log.With(zap.String("flow", id)))
	deps := approval.Deps{
		Accounts:  mg.onchain,
		GasPrices: mg.onchain,
		Simulator: mg.onchain,
		Unlocker:  unlocker,
		Sender:    mg.onchain,
		Window:    &flowWindow{manager: mg, id: id},
	}
	opts := approval.Options{
		IsOriginRequired: req.IsOriginRequired,
		DisableAutoClose: req.DisableAutoClose,
		IdleTimeout:      mg.idleTimeout,
		OnTransition:     mg.queueUpdate(f),
	}
	f.machine = approval.New(deps, opts, mg.log.With(zap.String("flow", id)))

	mg.mu.Lock()
	mg.flows[id] = f
	mg.mu.Unlock()

	now := time.Now().Unix()
	if err := registry.CreateRecord(mg.baseCtx, mg.rdb, registry.Record{
		ID:        id,
		Origin:    req.Origin,
		Address:   req.Address,
		State:     approval.StateIdle.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		mg.log.Error("persist flow record", zap.String("flow", id), zap.Error(err))
	}

	go f.machine.Run(flowCtx)
	go mg.applyUpdates(f)
	go mg.reap(f)

	var reqAddr common.Address
	if req.Address != "" {
		reqAddr = address
	}
	if err := f.machine.Start(approval.StartInput{
		TransactionRequest: req.Transaction,
		Address:            reqAddr,
		ProviderURL:        req.ProviderURL,
		Origin:             req.Origin,
	}); err != nil {
		mg.remove(id)
		cancel()
		registry.DeleteRecord(mg.baseCtx, mg.rdb, id) //nolint:errcheck
		return "", err
	}
	return id, nil
}

// Get returns the flow's current state and context snapshot.
func (mg *Manager) Get(id string) (approval.State, approval.Context, error) {
	f, err := mg.lookup(id)
	if err != nil {
		return 0, approval.Context{}, err
	}
	state, snap := f.machine.Snapshot()
	return state, snap, nil
}

// Archived returns the registry record of a flow no longer resident in memory.
func (mg *Manager) Archived(id string) (*registry.Record, error) {
	ctx, cancel := context.WithTimeout(mg.baseCtx, 5*time.Second)
	defer cancel()
	return registry.GetRecord(ctx, mg.rdb, id)
}

// Owner returns the address a flow belongs to, for authorization checks.
// Evicted flows resolve through their registry record.
func (mg *Manager) Owner(id string) (common.Address, error) {
	if f, err := mg.lookup(id); err == nil {
		return f.address, nil
	}
	rec, err := mg.Archived(id)
	if err != nil || rec == nil {
		return common.Address{}, ErrFlowNotFound
	}
	return common.HexToAddress(rec.Address), nil
}

// Command dispatches a user command to the flow's machine.
func (mg *Manager) Command(id, cmd, passphrase string) error {
	f, err := mg.lookup(id)
	if err != nil {
		return err
	}
	switch cmd {
	case "approve":
		return f.machine.Approve()
	case "reject":
		return f.machine.Reject()
	case "reset":
		return f.machine.Reset()
	case "try-again":
		return f.machine.TryAgain()
	case "close":
		return f.machine.Close()
	case "unlock":
		return f.machine.Unlock(passphrase)
	case "cancel-unlock":
		return f.machine.CancelUnlock()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// Shutdown cancels every live flow.
func (mg *Manager) Shutdown() {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	for _, f := range mg.flows {
		f.cancel()
	}
}

func (mg *Manager) lookup(id string) (*flow, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	f, ok := mg.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return f, nil
}

func (mg *Manager) remove(id string) {
	mg.mu.Lock()
	delete(mg.flows, id)
	mg.mu.Unlock()
}

func (mg *Manager) flowCount() int {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	return len(mg.flows)
}

// queueUpdate is the machine's transition observer. It must not block, so the
// update is handed off to the flow's worker; a full queue drops the update
// rather than stalling the machine.
func (mg *Manager) queueUpdate(f *flow) func(approval.State, approval.Context) {
	return func(state approval.State, snap approval.Context) {
		var txHash, errMsg string
		if snap.Response.ApprovedTx != nil {
			txHash = snap.Response.ApprovedTx.Hash.Hex()
		}
		switch {
		case snap.Errors.Submission != "":
			errMsg = snap.Errors.Submission
		case snap.Errors.Unlock != "":
			errMsg = snap.Errors.Unlock
		case !snap.Errors.DryRun.Empty():
			errMsg = snap.Errors.DryRun.Error()
		}

		select {
		case f.updates <- stateUpdate{state: state, txHash: txHash, errMsg: errMsg}:
		default:
			mg.log.Warn("state update queue full, dropping",
				zap.String("flow", f.id),
				zap.Stringer("state", state),
			)
		}
	}
}

// applyUpdates serializes the flow's registry writes on a dedicated goroutine,
// preserving transition order, and fires the origin callback once the flow
// terminates. Exits when the updates channel is closed by reap.
func (mg *Manager) applyUpdates(f *flow) {
	for {
		select {
		case <-mg.baseCtx.Done():
			return
		case u, ok := <-f.updates:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(mg.baseCtx, 5*time.Second)
			if err := registry.UpdateState(ctx, mg.rdb, f.id, u.state.String(), u.txHash, u.errMsg, time.Now().Unix()); err != nil {
				mg.log.Error("update flow record", zap.String("flow", f.id), zap.Error(err))
			}
			cancel()

			if u.state.Terminal() && f.callbackURL != "" {
				mg.notifier.Notify(mg.baseCtx, f.callbackURL, notify.Outcome{
					FlowID: f.id,
					State:  u.state.String(),
					TxHash: u.txHash,
					Error:  u.errMsg,
				})
			}
		}
	}
}

// reap evicts the flow once its machine terminates, after a grace window
// during which live snapshots keep being served. Later reads fall back to the
// registry record. The machine emits nothing after Done, so closing the
// updates channel here is safe.
func (mg *Manager) reap(f *flow) {
	select {
	case <-f.machine.Done():
	case <-mg.baseCtx.Done():
		return
	}

	timer := time.NewTimer(mg.retainTerminal)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-mg.baseCtx.Done():
		return
	}

	mg.remove(f.id)
	f.cancel()
	close(f.updates)
	mg.log.Debug("terminated flow evicted", zap.String("flow", f.id))
}

// flowWindow is the idle auto-close host surface: closing the "window" for a
// daemon-hosted flow means cancelling it.
type flowWindow struct {
	manager *Manager
	id      string
}

func (w *flowWindow) CloseWindow() {
	w.manager.log.Info("idle timeout, closing flow", zap.String("flow", w.id))
}

func newFlowID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("flow id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// SameAddress reports whether signer matches the flow owner, case-insensitive.
func SameAddress(signer string, owner common.Address) bool {
	return strings.EqualFold(signer, owner.Hex())
}
