// Package attempt implements the submission attempt policies: given a
// request and the last on-wire attempt, decide the nonce, fee, gas and
// wait window of the next submission. Two policies exist, a legacy
// gas-price one and an EIP-1559 one, both persisting their state through
// the shared attempt storage.
package attempt

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/skalenetwork/transaction-manager/eth"
	"github.com/skalenetwork/transaction-manager/types"
)

// ErrNoCurrentAttempt is returned by operations that need an attempt in
// flight when none has been made or fetched.
var ErrNoCurrentAttempt = errors.New("no current attempt")

// Eth is the node adapter surface the attempt managers consume.
type Eth interface {
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	AvgGasPrice(ctx context.Context) (*big.Int, error)
	GetFeeHistory(ctx context.Context) (*eth.FeeHistory, error)
	CalculateGas(ctx context.Context, tx *types.Tx) (uint64, error)
}

// Manager decides the parameters of each submission attempt.
type Manager interface {
	// Current returns the attempt in flight, nil when none.
	Current() *types.Attempt
	// Fetch loads the persisted attempt into memory.
	Fetch(ctx context.Context) error
	// Save persists the current attempt. ErrNoCurrentAttempt when none.
	Save(ctx context.Context) error
	// Make computes the next attempt for tx and applies its nonce, fee
	// and gas to the request.
	Make(ctx context.Context, tx *types.Tx) error
	// Replace bumps the current attempt fee just enough to displace the
	// pooled predecessor after a replacement-underpriced rejection.
	// replaceAttempt counts the consecutive replacements for this send.
	Replace(ctx context.Context, tx *types.Tx, replaceAttempt int) error
}

// nextWaitTime grows the receipt wait window quadratically with the
// attempt index, clamped to maxTime.
func nextWaitTime(base, index, maxTime int) int {
	wait := base + 10*index*index
	if wait > maxTime {
		wait = maxTime
	}
	return wait
}

// pctInc returns value*(100+inc)/100.
func pctInc(value *big.Int, inc int) *big.Int {
	next := new(big.Int).Mul(value, big.NewInt(int64(100+inc)))
	return next.Div(next, big.NewInt(100))
}
