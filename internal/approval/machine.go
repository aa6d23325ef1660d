// Package approval implements the transaction approval machine: a per-request
// state machine driving a transaction from submission through user approval to
// network submission.
//
// One machine instance exists per in-flight transaction request and owns its
// context exclusively. States are processed on a single goroutine; every async
// stage awaits exactly one collaborator call and classifies the result through
// the uniform outcome envelope. Recoverable failures are absorbed into the
// context and drive transitions; only start-request validation errors escape
// the machine boundary (returned synchronously from Start).
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signet-labs/approvald/internal/txreq"
	"github.com/signet-labs/approvald/internal/wallet"
)

// DefaultIdleTimeout is how long the machine waits in idle for a start command
// before auto-closing the host window (when enabled).
const DefaultIdleTimeout = 1300 * time.Millisecond

type cmdKind uint8

const (
	cmdStart cmdKind = iota
	cmdApprove
	cmdReject
	cmdReset
	cmdTryAgain
	cmdClose
	cmdUnlockWallet
	cmdCancelUnlock
)

func (k cmdKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdApprove:
		return "approve"
	case cmdReject:
		return "reject"
	case cmdReset:
		return "reset"
	case cmdTryAgain:
		return "tryAgain"
	case cmdClose:
		return "close"
	case cmdUnlockWallet:
		return "unlockWallet"
	case cmdCancelUnlock:
		return "cancelUnlock"
	default:
		return "unknown"
	}
}

type command struct {
	kind       cmdKind
	input      StartInput
	passphrase string
}

// Options configure one machine instance.
type Options struct {
	// IsOriginRequired makes a missing origin in the start request fatal and
	// enables the idle auto-close path.
	IsOriginRequired bool
	// DisableAutoClose suppresses the idle-timeout auto-close.
	DisableAutoClose bool
	// IdleTimeout overrides DefaultIdleTimeout when positive.
	IdleTimeout time.Duration
	// OnTransition, when set, observes every state change with a context
	// snapshot. Called from the machine goroutine; must not block.
	OnTransition func(State, Context)
}

// Machine is a single transaction approval flow.
type Machine struct {
	deps Deps
	opts Options
	log  *zap.Logger

	cmds chan command
	done chan struct{}

	mu     sync.RWMutex
	state  State
	mctx   *Context
	handle *wallet.Handle
}

// New creates a machine in the idle state. The caller drives it with Run.
func New(deps Deps, opts Options, log *zap.Logger) *Machine {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Machine{
		deps:  deps,
		opts:  opts,
		log:   log,
		cmds:  make(chan command, 8),
		done:  make(chan struct{}),
		state: StateIdle,
		mctx:  newContext(opts.IsOriginRequired, opts.DisableAutoClose),
	}
}

// Run executes the machine until it reaches a terminal state or ctx is
// cancelled. It must be called exactly once.
func (m *Machine) Run(ctx context.Context) {
	defer close(m.done)
	defer m.releaseWallet()
	defer m.deps.Unlocker.Close()

	for {
		switch m.State() {
		case StateIdle:
			if !m.runIdle(ctx) {
				return
			}
		case StateClosing:
			if m.deps.Window != nil {
				m.deps.Window.CloseWindow()
			}
			m.transition(StateFailed)
		case StateFetchingAccount:
			m.runFetchAccount(ctx)
		case StateSettingGasPrice:
			m.runSetGasPrice(ctx)
		case StateSimulating:
			m.runSimulate(ctx)
		case StateWaitingApproval:
			if !m.runWaitingApproval(ctx) {
				return
			}
		case StateUnlocking:
			if !m.runUnlocking(ctx) {
				return
			}
		case StateSendingTx:
			m.runSend(ctx)
		case StateTxSuccess:
			if !m.runTxSuccess(ctx) {
				return
			}
		case StateTxFailed:
			if !m.runTxFailed(ctx) {
				return
			}
		case StateDone, StateFailed:
			return
		}
	}
}

// Done closes when the machine has terminated.
func (m *Machine) Done() <-chan struct{} { return m.done }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the current state and a deep copy of the context. The copy
// is detached: later machine writes never show through it.
func (m *Machine) Snapshot() (State, Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.mctx.clone()
}

// ── commands ────────────────────────────────────────────────────────────────

// Start validates and submits the start request. Validation failures are
// returned immediately and the machine stays in idle.
func (m *Machine) Start(in StartInput) error {
	if err := in.validate(m.opts.IsOriginRequired); err != nil {
		return err
	}
	return m.send(command{kind: cmdStart, input: in})
}

func (m *Machine) Approve() error      { return m.send(command{kind: cmdApprove}) }
func (m *Machine) Reject() error       { return m.send(command{kind: cmdReject}) }
func (m *Machine) Reset() error        { return m.send(command{kind: cmdReset}) }
func (m *Machine) TryAgain() error     { return m.send(command{kind: cmdTryAgain}) }
func (m *Machine) Close() error        { return m.send(command{kind: cmdClose}) }
func (m *Machine) CancelUnlock() error { return m.send(command{kind: cmdCancelUnlock}) }

// Unlock forwards a passphrase attempt to the unlock sub-machine.
func (m *Machine) Unlock(passphrase string) error {
	return m.send(command{kind: cmdUnlockWallet, passphrase: passphrase})
}

func (m *Machine) send(cmd command) error {
	if m.State().Terminal() {
		return ErrTerminated
	}
	select {
	case m.cmds <- cmd:
		return nil
	case <-m.done:
		return ErrTerminated
	}
}

// ── stage runners ───────────────────────────────────────────────────────────

// runIdle waits for the start command. With auto-close enabled, a 1300ms
// silence closes the host window instead. Returns false when ctx cancelled.
func (m *Machine) runIdle(ctx context.Context) bool {
	var timeout <-chan time.Time
	if m.autoCloseEnabled() {
		timer := time.NewTimer(m.opts.IdleTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		select {
		case cmd := <-m.cmds:
			if cmd.kind != cmdStart {
				m.drop(cmd)
				continue
			}
			in := cmd.input
			m.update(func(c *Context) {
				c.Input.Origin = in.Origin
				c.Input.Address = in.Address
				c.Input.ProviderURL = in.ProviderURL
				c.Input.TransactionRequest = in.TransactionRequest
			})
			m.transition(StateFetchingAccount)
			return true
		case <-timeout:
			m.log.Info("no start request before idle timeout, closing",
				zap.Duration("timeout", m.opts.IdleTimeout))
			m.transition(StateClosing)
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func (m *Machine) runFetchAccount(ctx context.Context) {
	in := m.input()
	res := await(m.deps.Accounts.FetchAccount(ctx, in.Address, in.ProviderURL))
	if res.hasError() {
		m.log.Error("account fetch failed", zap.Error(res.err))
		m.transition(StateFailed)
		return
	}
	m.update(func(c *Context) { c.Input.Account = res.data })
	m.transition(StateSettingGasPrice)
}

// runSetGasPrice writes the network gas price into the pending request. Only a
// success transition is defined for this stage; a fetch error is logged and
// the request proceeds with its original gas price.
func (m *Machine) runSetGasPrice(ctx context.Context) {
	in := m.input()
	res := await(m.deps.GasPrices.FetchGasPrice(ctx, in.ProviderURL))
	if res.hasError() {
		m.log.Warn("gas price fetch failed, proceeding without", zap.Error(res.err))
	} else {
		m.update(func(c *Context) { c.Input.TransactionRequest.GasPrice = res.data })
	}
	m.transition(StateSimulating)
}

// runSimulate hands the simulator a private copy of the request; the gas limit
// it estimates is folded back into the context under the machine lock.
func (m *Machine) runSimulate(ctx context.Context) {
	req := m.input().TransactionRequest.Clone()
	res := await(m.deps.Simulator.Simulate(ctx, req))
	if res.hasError() {
		var dre *txreq.DryRunErrors
		if !errors.As(res.err, &dre) {
			dre = txreq.NewDryRunErrors()
			dre.Add(txreq.GroupRPC, res.err.Error())
		}
		m.update(func(c *Context) { c.Errors.DryRun = dre })
		m.transition(StateFailed)
		return
	}
	m.update(func(c *Context) {
		c.Input.TransactionRequest.Gas = req.Gas
		c.Response.Receipts = res.data
	})
	m.transition(StateWaitingApproval)
}

func (m *Machine) runWaitingApproval(ctx context.Context) bool {
	for {
		select {
		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdApprove:
				m.transition(StateUnlocking)
				return true
			case cmdReject:
				m.update(func(c *Context) { c.Errors.Submission = RejectionMessage })
				m.transition(StateFailed)
				return true
			case cmdReset:
				m.reset()
				return true
			default:
				m.drop(cmd)
			}
		case <-ctx.Done():
			return false
		}
	}
}

// runUnlocking forwards unlock-wallet commands to the sub-machine and observes
// its completions. Unlock errors keep the machine here for user retry; there
// is no attempt limit. Results are only honored while an attempt from this
// visit is outstanding, so a completion left over from a cancelled visit can
// never advance the machine on its own.
func (m *Machine) runUnlocking(ctx context.Context) bool {
	pending := 0
	for {
		select {
		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdUnlockWallet:
				m.deps.Unlocker.Submit(cmd.passphrase)
				pending++
			case cmdCancelUnlock:
				m.transition(StateWaitingApproval)
				return true
			default:
				m.drop(cmd)
			}
		case res := <-m.deps.Unlocker.Results():
			if pending == 0 {
				m.log.Debug("discarding unlock result from cancelled attempt")
				continue
			}
			pending--
			if res.Err != nil {
				m.update(func(c *Context) { c.Errors.Unlock = res.Err.Error() })
				m.notify()
				continue
			}
			m.mu.Lock()
			m.handle = res.Handle
			m.mu.Unlock()
			m.update(func(c *Context) { c.Errors.Unlock = "" })
			m.transition(StateSendingTx)
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func (m *Machine) runSend(ctx context.Context) {
	in := m.input()
	m.mu.RLock()
	handle := m.handle
	m.mu.RUnlock()

	res := await(m.deps.Sender.Send(ctx, in.TransactionRequest, handle))
	if res.hasError() {
		m.update(func(c *Context) { c.Errors.Submission = res.err.Error() })
		m.transition(StateFailed)
		return
	}
	m.update(func(c *Context) { c.Response.ApprovedTx = res.data })
	m.transition(StateTxSuccess)
}

func (m *Machine) runTxSuccess(ctx context.Context) bool {
	for {
		select {
		case cmd := <-m.cmds:
			if cmd.kind == cmdClose {
				m.transition(StateDone)
				return true
			}
			m.drop(cmd)
		case <-ctx.Done():
			return false
		}
	}
}

func (m *Machine) runTxFailed(ctx context.Context) bool {
	for {
		select {
		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdTryAgain:
				m.transition(StateWaitingApproval)
				return true
			case cmdClose:
				m.transition(StateFailed)
				return true
			default:
				m.drop(cmd)
			}
		case <-ctx.Done():
			return false
		}
	}
}

// ── internals ───────────────────────────────────────────────────────────────

func (m *Machine) autoCloseEnabled() bool {
	return m.opts.IsOriginRequired && !m.opts.DisableAutoClose
}

func (m *Machine) input() Input {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mctx.Input
}

func (m *Machine) update(fn func(*Context)) {
	m.mu.Lock()
	fn(m.mctx)
	m.mu.Unlock()
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	m.log.Debug("approval transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	m.notify()
}

func (m *Machine) notify() {
	if m.opts.OnTransition == nil {
		return
	}
	state, snap := m.Snapshot()
	m.opts.OnTransition(state, snap)
}

// reset clears the context to empty and returns to idle.
func (m *Machine) reset() {
	m.releaseWallet()
	m.mu.Lock()
	m.mctx = newContext(m.opts.IsOriginRequired, m.opts.DisableAutoClose)
	m.mu.Unlock()
	m.transition(StateIdle)
}

func (m *Machine) releaseWallet() {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()
	h.Zero()
}

func (m *Machine) drop(cmd command) {
	m.log.Debug("command not handled in current state",
		zap.Stringer("command", cmd.kind),
		zap.Stringer("state", m.State()),
	)
}
