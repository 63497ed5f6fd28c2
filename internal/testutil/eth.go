// Package testutil provides fakes shared by the package test suites.
package testutil

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
)

// EthBackend is an in-memory fake of the node backend the eth adapter
// wraps. Zero values are filled with workable defaults by NewEthBackend.
type EthBackend struct {
	mu sync.Mutex

	NonceValue    uint64
	BalanceValue  *big.Int
	GasPriceValue *big.Int
	BaseFee       *big.Int
	Tip           *big.Int
	Estimate      uint64
	EstimateErr   error
	Block         uint64
	BlockStep     uint64 // blocks mined per BlockNumber call
	GasLimit      uint64
	ChainIDValue  *big.Int

	// SendHook, when set, decides the outcome of SendTransaction calls.
	SendHook func(tx *gtypes.Transaction) error

	Sent     []*gtypes.Transaction
	Receipts map[string]*gtypes.Receipt
}

// NewEthBackend returns a fake backend with defaults good enough for most
// tests: 1 gwei gas price, 1 gwei base fee, 21000 estimation.
func NewEthBackend() *EthBackend {
	return &EthBackend{
		BalanceValue:  new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)),
		GasPriceValue: big.NewInt(1_000_000_000),
		BaseFee:       big.NewInt(1_000_000_000),
		Tip:           big.NewInt(1_500_000_000),
		Estimate:      21000,
		GasLimit:      30_000_000,
		ChainIDValue:  big.NewInt(1),
		Receipts:      map[string]*gtypes.Receipt{},
	}
}

// SetReceipt installs a receipt for the given hash.
func (b *EthBackend) SetReceipt(hash string, status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Receipts[common.HexToHash(hash).Hex()] = &gtypes.Receipt{Status: status}
}

// SentCount returns the number of successful submissions.
func (b *EthBackend) SentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Sent)
}

// LastSent returns the last successfully submitted envelope, or nil.
func (b *EthBackend) LastSent() *gtypes.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Sent) == 0 {
		return nil
	}
	return b.Sent[len(b.Sent)-1]
}

func (b *EthBackend) ChainID(context.Context) (*big.Int, error) {
	return b.ChainIDValue, nil
}

func (b *EthBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Block += b.BlockStep
	return b.Block, nil
}

func (b *EthBackend) HeaderByNumber(context.Context, *big.Int) (*gtypes.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &gtypes.Header{GasLimit: b.GasLimit, BaseFee: b.BaseFee}, nil
}

func (b *EthBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.NonceValue, nil
}

func (b *EthBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.BalanceValue), nil
}

func (b *EthBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.GasPriceValue), nil
}

func (b *EthBackend) FeeHistory(context.Context, uint64, *big.Int, []float64) (*ethereum.FeeHistory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &ethereum.FeeHistory{
		BaseFee: []*big.Int{new(big.Int).Set(b.BaseFee)},
		Reward: [][]*big.Int{{
			new(big.Int).Div(new(big.Int).Set(b.Tip), big.NewInt(2)),
			new(big.Int).Set(b.Tip),
		}},
	}, nil
}

func (b *EthBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return b.Estimate, nil
}

func (b *EthBackend) SendTransaction(_ context.Context, tx *gtypes.Transaction) error {
	if b.SendHook != nil {
		if err := b.SendHook(tx); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Sent = append(b.Sent, tx)
	b.NonceValue = tx.Nonce() + 1
	return nil
}

func (b *EthBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*gtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.Receipts[txHash.Hex()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}
