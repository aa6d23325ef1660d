package approval

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/signet-labs/approvald/internal/txreq"
	"github.com/signet-labs/approvald/internal/wallet"
)

// AccountProvider resolves an account and loads its balance.
type AccountProvider interface {
	FetchAccount(ctx context.Context, address common.Address, providerURL string) (*txreq.Account, error)
}

// GasPriceProvider reads the network's current minimum gas price.
type GasPriceProvider interface {
	FetchGasPrice(ctx context.Context, providerURL string) (*big.Int, error)
}

// TransactionSimulator dry-runs a transaction. A failed dry run returns a
// *txreq.DryRunErrors so the machine can store the grouped errors. Simulate
// may write the estimated gas limit into req, so the caller must pass a
// request nothing else holds a reference to.
type TransactionSimulator interface {
	Simulate(ctx context.Context, req *txreq.Request) ([]txreq.Receipt, error)
}

// WalletUnlocker is the owned unlock sub-machine. The machine forwards
// unlock-wallet commands via Submit and observes completions on Results.
type WalletUnlocker interface {
	Submit(passphrase string)
	Results() <-chan wallet.UnlockResult
	Close()
}

// TransactionSender signs and submits the transaction.
type TransactionSender interface {
	Send(ctx context.Context, req *txreq.Request, h *wallet.Handle) (*txreq.ApprovedTx, error)
}

// WindowCloser is the host surface closed by the idle auto-close path.
type WindowCloser interface {
	CloseWindow()
}

// Deps are the external collaborators one machine instance drives. Window is
// optional; everything else must be set.
type Deps struct {
	Accounts  AccountProvider
	GasPrices GasPriceProvider
	Simulator TransactionSimulator
	Unlocker  WalletUnlocker
	Sender    TransactionSender
	Window    WindowCloser
}

// outcome is the uniform result envelope every collaborator call is classified
// through. Transition logic only ever inspects hasError, never a
// stage-specific error shape.
type outcome[T any] struct {
	data T
	err  error
}

func (o outcome[T]) hasError() bool { return o.err != nil }

func await[T any](data T, err error) outcome[T] {
	return outcome[T]{data: data, err: err}
}
