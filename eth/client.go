// Package eth is a thin facade over a JSON-RPC Ethereum node: nonce and
// balance lookups, gas estimation, fee history, raw submission, receipt
// polling and block waits. The processor and the attempt managers never
// talk to the node directly.
package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skalenetwork/transaction-manager/log"
	"github.com/skalenetwork/transaction-manager/types"
)

const (
	receiptPollInterval = time.Second
	blockPollInterval   = time.Second
	gasHintCacheSize    = 256
)

// Backend is the subset of the go-ethereum client the adapter needs.
// *ethclient.Client satisfies it; tests inject fakes.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gtypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gtypes.Receipt, error)
}

// Options tunes the adapter behavior.
type Options struct {
	// AvgGasPriceIncPercent is added on top of the node gas price
	// suggestion when computing the average gas price.
	AvgGasPriceIncPercent int
	// TargetRewardPercentile is the upper reward percentile requested
	// from eth_feeHistory.
	TargetRewardPercentile int
	// DisableGasEstimation skips eth_estimateGas and uses the static
	// hint (or DefaultGasLimit) instead.
	DisableGasEstimation bool
	// DefaultGasLimit is used when estimation is disabled and the
	// request carries no static gas hint.
	DefaultGasLimit uint64
}

// FeeHistory is the digest of the node fee history the attempt manager
// consumes: the base fee of the last block and a healthy tip taken from
// the configured reward percentile.
type FeeHistory struct {
	EstimatedBaseFee *big.Int
	GoodTip          *big.Int
}

// Client is the Eth adapter.
type Client struct {
	backend  Backend
	opts     Options
	gasHints *lru.Cache[string, uint64]
}

// Dial connects to the node at endpoint and returns an adapter around it.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial eth node: %w", err)
	}
	return NewClient(backend, opts), nil
}

// NewClient wraps an existing backend. Used by Dial and by tests.
func NewClient(backend Backend, opts Options) *Client {
	hints, err := lru.New[string, uint64](gasHintCacheSize)
	if err != nil {
		log.Fatalf("failed to create gas hint cache: %v", err)
	}
	return &Client{backend: backend, opts: opts, gasHints: hints}
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.backend.ChainID(ctx)
}

// Nonce returns the pending transaction count for addr.
func (c *Client) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	return c.backend.PendingNonceAt(ctx, addr)
}

// Balance returns the latest balance of addr.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, addr, nil)
}

// BlockNumber returns the current block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// SupportsDynamicFees reports whether the chain carries EIP-1559 base
// fees in its headers.
func (c *Client) SupportsDynamicFees(ctx context.Context) (bool, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("latest header: %w", err)
	}
	return header.BaseFee != nil, nil
}

// BlockGasLimit returns the gas limit of the latest block.
func (c *Client) BlockGasLimit(ctx context.Context) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return header.GasLimit, nil
}

// AvgGasPrice returns the node gas price suggestion increased by the
// configured percent.
func (c *Client) AvgGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	price.Mul(price, big.NewInt(int64(100+c.opts.AvgGasPriceIncPercent)))
	price.Div(price, big.NewInt(100))
	return price, nil
}

// GetFeeHistory fetches the last block fee history at the 50th and the
// configured target percentiles and extracts the values the EIP-1559
// attempt manager needs.
func (c *Client) GetFeeHistory(ctx context.Context) (*FeeHistory, error) {
	history, err := c.backend.FeeHistory(ctx, 1, nil, []float64{50, float64(c.opts.TargetRewardPercentile)})
	if err != nil {
		return nil, fmt.Errorf("fee history: %w", err)
	}
	if len(history.BaseFee) == 0 {
		return nil, fmt.Errorf("fee history has no base fee")
	}
	if len(history.Reward) == 0 || len(history.Reward[0]) < 2 {
		return nil, fmt.Errorf("fee history has no reward percentiles")
	}
	return &FeeHistory{
		EstimatedBaseFee: history.BaseFee[len(history.BaseFee)-1],
		GoodTip:          history.Reward[0][1],
	}, nil
}

// CalculateGas computes the gas limit for tx: the node estimation scaled
// by the tx multiplier and clamped to the block gas limit. When
// estimation is disabled, the static hint (or the default limit) is
// scaled instead. A revert during estimation surfaces as
// ErrEstimateGasRevert; on a transient estimation failure a previously
// cached estimate for the same call shape is used if available.
func (c *Client) CalculateGas(ctx context.Context, tx *types.Tx) (uint64, error) {
	multiplier := tx.Multiplier
	if multiplier <= 0 {
		multiplier = types.DefaultGasMultiplier
	}
	if c.opts.DisableGasEstimation {
		gas := tx.Gas
		if gas == 0 {
			gas = c.opts.DefaultGasLimit
		}
		return uint64(float64(gas) * multiplier), nil
	}

	msg, err := callMsg(tx)
	if err != nil {
		return 0, err
	}
	estimated, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		if isEstimateRevert(err) {
			return 0, fmt.Errorf("%w: %v", ErrEstimateGasRevert, err)
		}
		hint, ok := c.gasHints.Get(gasHintKey(msg))
		if !ok {
			return 0, fmt.Errorf("estimate gas: %w", err)
		}
		log.Warnw("gas estimation failed, using cached estimate",
			"tx", tx.ID, "hint", hint, "error", err.Error())
		estimated = hint
	} else {
		c.gasHints.Add(gasHintKey(msg), estimated)
	}

	gas := uint64(float64(estimated) * multiplier)
	limit, err := c.BlockGasLimit(ctx)
	if err != nil {
		return 0, err
	}
	if gas > limit {
		log.Warnw("estimated gas exceeds block gas limit",
			"tx", tx.ID, "gas", gas, "limit", limit)
		gas = limit
	}
	return gas, nil
}

// SendTx submits a signed transaction and returns its hash. Errors are
// propagated untouched so the caller can classify them.
func (c *Client) SendTx(ctx context.Context, signed *gtypes.Transaction) (string, error) {
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// Status returns -1 when no receipt exists for hash, otherwise the
// receipt status (0 or 1).
func (c *Client) Status(ctx context.Context, hash string) (int, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return -1, nil
		}
		return -1, fmt.Errorf("transaction receipt: %w", err)
	}
	return int(receipt.Status), nil
}

// WaitForBlocks blocks until amount blocks have been mined, failing with
// ErrBlockTimeout when the window elapses first.
func (c *Client) WaitForBlocks(ctx context.Context, amount uint64, maxTime time.Duration) error {
	start, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	deadline := time.Now().Add(maxTime)
	ticker := time.NewTicker(blockPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current, err := c.backend.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("block number: %w", err)
			}
			if current >= start+amount {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: %d blocks after %d", ErrBlockTimeout, amount, start)
			}
		}
	}
}

// WaitForReceipt polls for the receipt of hash at 1 Hz, failing with
// ErrReceiptTimeout when the window elapses first.
func (c *Client) WaitForReceipt(ctx context.Context, hash string, maxTime time.Duration) (int, error) {
	deadline := time.Now().Add(maxTime)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
			status, err := c.Status(ctx, hash)
			if err != nil {
				return -1, err
			}
			if status >= 0 {
				return status, nil
			}
			if time.Now().After(deadline) {
				return -1, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash)
			}
		}
	}
}

func gasHintKey(msg ethereum.CallMsg) string {
	key := ""
	if msg.To != nil {
		key = msg.To.Hex()
	}
	if len(msg.Data) >= 4 {
		key += "|" + common.Bytes2Hex(msg.Data[:4])
	}
	return key
}
