// Package chain binds the oracle to the on-chain game contract over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rewired-gh/roundoracle/internal/logger"
	"github.com/rewired-gh/roundoracle/internal/models"
)

var (
	// ErrReadOnly is returned by CallResult when no signing key is configured.
	ErrReadOnly = errors.New("client has no signing key")
	// ErrReverted is returned when the callResult transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")
)

// Config holds the connection settings for Dial.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string // hex, optional 0x prefix; empty = read-only
	ChainID         int64  // 0 = ask the node
	ABIPath         string // empty = built-in GameABI
	ConfirmTimeout  time.Duration
}

// Backend is what the client needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client reads round state from the game contract and submits results.
type Client struct {
	address        common.Address
	abi            abi.ABI
	contract       *bind.BoundContract
	backend        Backend
	auth           *bind.TransactOpts
	confirmTimeout time.Duration
	closer         func()
}

// Dial connects to the node and prepares a signer when a private key is set.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := LoadABI(cfg.ABIPath)
	if err != nil {
		return nil, err
	}

	privateKey := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	var auth *bind.TransactOpts
	if privateKey != "" {
		auth, err = newTransactor(ctx, eth, privateKey, cfg.ChainID)
		if err != nil {
			eth.Close()
			return nil, err
		}
	}

	c, err := NewClient(common.HexToAddress(cfg.ContractAddress), parsed, eth, auth, cfg.ConfirmTimeout)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

func newTransactor(ctx context.Context, eth *ethclient.Client, privateKey string, chainID int64) (*bind.TransactOpts, error) {
	key, err := crypto.HexToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = eth.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	return auth, nil
}

// NewClient binds an already connected backend. A nil auth makes the client read-only.
func NewClient(address common.Address, parsed abi.ABI, backend Backend, auth *bind.TransactOpts, confirmTimeout time.Duration) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend must not be nil")
	}
	return &Client{
		address:        address,
		abi:            parsed,
		contract:       bind.NewBoundContract(address, parsed, backend, backend, nil),
		backend:        backend,
		auth:           auth,
		confirmTimeout: confirmTimeout,
	}, nil
}

// Close releases the node connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the contract address.
func (c *Client) Address() common.Address { return c.address }

// Sender returns the signing account, or the zero address when read-only.
func (c *Client) Sender() common.Address {
	if c.auth == nil {
		return common.Address{}
	}
	return c.auth.From
}

// SenderBalance returns the signing account's balance in wei.
func (c *Client) SenderBalance(ctx context.Context) (*big.Int, error) {
	if c.auth == nil {
		return nil, ErrReadOnly
	}
	bal, err := c.backend.BalanceAt(ctx, c.auth.From, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return bal, nil
}

func (c *Client) call(ctx context.Context, method string) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return out, nil
}

// StartTime reads START_TIME().
func (c *Client) StartTime(ctx context.Context) (int64, error) {
	out, err := c.call(ctx, methodStartTime)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%s returned no value", methodStartTime)
	}
	return toInt64(out[0], methodStartTime)
}

// Settings reads settings().
func (c *Client) Settings(ctx context.Context) (models.GameSettings, error) {
	out, err := c.call(ctx, methodSettings)
	if err != nil {
		return models.GameSettings{}, err
	}
	if len(out) < 4 {
		return models.GameSettings{}, fmt.Errorf("%s returned %d values, want 4", methodSettings, len(out))
	}
	var vals [4]int64
	names := [4]string{"freeGuessPerDay", "fixedReward", "windowTime", "lockoutTime"}
	for i := range vals {
		if vals[i], err = toInt64(out[i], names[i]); err != nil {
			return models.GameSettings{}, err
		}
	}
	return models.GameSettings{
		FreeGuessPerDay: vals[0],
		FixedReward:     vals[1],
		WindowTime:      vals[2],
		LockoutTime:     vals[3],
	}, nil
}

// CurrentGame reads currentGame().
func (c *Client) CurrentGame(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, methodCurrentGame)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%s returned no value", methodCurrentGame)
	}
	return toUint64(out[0], methodCurrentGame)
}

// CallResult sends callResult(price) and blocks until the receipt is
// available or the confirmation timeout, counted from before the send,
// expires. The tx hash is returned
// whenever a transaction was sent, even on failure.
func (c *Client) CallResult(ctx context.Context, price *big.Int) (string, error) {
	if c.auth == nil {
		return "", ErrReadOnly
	}
	arg, err := priceArg(c.abi.Methods[methodCallResult], price)
	if err != nil {
		return "", err
	}

	// confirmTimeout covers gas estimation and sending as well as mining.
	txCtx := ctx
	if c.confirmTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, c.confirmTimeout)
		defer cancel()
	}

	opts := *c.auth
	opts.Context = txCtx
	tx, err := c.contract.Transact(&opts, methodCallResult, arg)
	if err != nil {
		return "", fmt.Errorf("failed to send %s: %w", methodCallResult, err)
	}
	hash := tx.Hash().Hex()
	logger.Info("Sent %s tx %s (nonce %d), waiting for confirmation", methodCallResult, hash, tx.Nonce())

	receipt, err := bind.WaitMined(txCtx, c.backend, tx)
	if err != nil {
		return hash, fmt.Errorf("failed waiting for tx %s: %w", hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%w: tx %s in block %s", ErrReverted, hash, receipt.BlockNumber)
	}
	logger.Debug("Tx %s confirmed in block %s, gas used %d", hash, receipt.BlockNumber, receipt.GasUsed)
	return hash, nil
}
