// Package chain wraps go-ethereum as the approval machine's network-facing
// collaborators: account resolution, gas pricing, dry-run simulation, and
// transaction submission.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/signet-labs/approvald/internal/txreq"
	"github.com/signet-labs/approvald/internal/wallet"
)

// fallbackGasLimit covers a plain value transfer when estimation is skipped.
const fallbackGasLimit = 21_000

// Client talks to a single JSON-RPC endpoint.
type Client struct {
	eth     *ethclient.Client
	rpcURL  string
	chainID *big.Int
	log     *zap.Logger
}

func NewClient(rpcURL string, chainID int64, log *zap.Logger) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpc url is empty")
	}
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{
		eth:     eth,
		rpcURL:  rpcURL,
		chainID: big.NewInt(chainID),
		log:     log,
	}, nil
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// FetchAccount resolves an address into an account with its current balance
// and pending nonce.
func (c *Client) FetchAccount(ctx context.Context, address common.Address, providerURL string) (*txreq.Account, error) {
	if providerURL == "" {
		return nil, errors.New("provider URL is empty")
	}
	if address == (common.Address{}) {
		return nil, errors.New("account address is empty")
	}

	balance, err := c.eth.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", address.Hex(), err)
	}
	nonce, err := c.eth.PendingNonceAt(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("pending nonce of %s: %w", address.Hex(), err)
	}
	return &txreq.Account{Address: address, Balance: balance, Nonce: nonce}, nil
}

// FetchGasPrice reads the node's suggested gas price.
func (c *Client) FetchGasPrice(ctx context.Context, providerURL string) (*big.Int, error) {
	if providerURL == "" {
		return nil, errors.New("provider URL is empty")
	}
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return price, nil
}

// Simulate dry-runs the transaction against current network state. Node-side
// validation failures come back as *txreq.DryRunErrors grouped by category;
// success produces the expected balance-change receipts. The estimated gas
// limit is written into the request when it had none, so req must be a copy
// nothing else reads concurrently.
func (c *Client) Simulate(ctx context.Context, req *txreq.Request) ([]txreq.Receipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{
		From:     req.From,
		Value:    req.Value,
		Data:     req.Data,
		Gas:      req.Gas,
		GasPrice: req.GasPrice,
	}
	if req.To != (common.Address{}) {
		to := req.To
		msg.To = &to
	}

	dre := txreq.NewDryRunErrors()

	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		dre.Add(txreq.ClassifyRPCError(err.Error()), err.Error())
	} else if req.Gas == 0 {
		req.Gas = gas
	}
	if req.Gas == 0 {
		req.Gas = fallbackGasLimit
	}

	if len(req.Data) > 0 {
		if _, err := c.eth.CallContract(ctx, msg, nil); err != nil {
			dre.Add(txreq.ClassifyRPCError(err.Error()), err.Error())
		}
	}

	senderBalance, err := c.eth.BalanceAt(ctx, req.From, nil)
	if err != nil {
		return nil, fmt.Errorf("sender balance: %w", err)
	}
	recipientBalance := new(big.Int)
	if req.To != (common.Address{}) {
		recipientBalance, err = c.eth.BalanceAt(ctx, req.To, nil)
		if err != nil {
			return nil, fmt.Errorf("recipient balance: %w", err)
		}
	}

	// Local funds check backs up the node-side one: total cost must not
	// exceed the sender's balance.
	cost := new(big.Int).Set(req.Value)
	if req.GasPrice != nil {
		cost.Add(cost, new(big.Int).Mul(req.GasPrice, new(big.Int).SetUint64(req.Gas)))
	}
	if senderBalance.Cmp(cost) < 0 {
		dre.Add(txreq.GroupInsufficientFunds,
			fmt.Sprintf("balance %s is below total cost %s", senderBalance, cost))
	}

	if !dre.Empty() {
		return nil, dre
	}
	return txreq.BuildTransferReceipts(req, senderBalance, recipientBalance), nil
}

// Send signs the request with the unlocked wallet and submits it.
func (c *Client) Send(ctx context.Context, req *txreq.Request, h *wallet.Handle) (*txreq.ApprovedTx, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if h == nil || h.Key == nil {
		return nil, errors.New("wallet handle is not unlocked")
	}
	if req.From != h.Address {
		return nil, fmt.Errorf("request sender %s does not match unlocked wallet %s",
			req.From.Hex(), h.Address.Hex())
	}

	gasPrice := req.GasPrice
	if gasPrice == nil {
		var err error
		gasPrice, err = c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
	}

	nonce := req.Nonce
	if nonce == 0 {
		var err error
		nonce, err = c.eth.PendingNonceAt(ctx, h.Address)
		if err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}
	}

	gas := req.Gas
	if gas == 0 {
		gas = fallbackGasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       txTo(req),
		Value:    req.Value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), h.Key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode signed tx: %w", err)
	}

	c.log.Info("transaction submitted",
		zap.String("hash", signed.Hash().Hex()),
		zap.String("from", h.Address.Hex()),
	)
	return &txreq.ApprovedTx{Hash: signed.Hash(), Raw: hexutil.Encode(raw)}, nil
}

func txTo(req *txreq.Request) *common.Address {
	if req.To == (common.Address{}) {
		return nil
	}
	to := req.To
	return &to
}
