package attempt

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/skalenetwork/transaction-manager/log"
	"github.com/skalenetwork/transaction-manager/types"
)

// V1Config tunes the legacy gas-price policy.
type V1Config struct {
	// Source is the dispatch account.
	Source common.Address
	// MaxGasPrice is the absolute per-gas ceiling in wei.
	MaxGasPrice *big.Int
	// BaseWaitingTime is the first-attempt receipt wait in seconds.
	BaseWaitingTime int
	// MaxWaitingTime caps the receipt wait of late attempts.
	MaxWaitingTime int
	// MinGasPriceInc is the absolute minimum bump in wei, applied when
	// the percentage bump rounds away on tiny prices.
	MinGasPriceInc *big.Int
	// GasPriceIncPercent is the retry bump.
	GasPriceIncPercent int
	// GradGasPriceIncPercent is the gentler replacement bump.
	GradGasPriceIncPercent int
}

// V1 is the legacy gas-price attempt policy: start from the node average
// price, bump on every retry, cap at the configured maximum.
type V1 struct {
	eth     Eth
	storage *Storage
	cfg     V1Config
	current *types.Attempt
}

// NewV1 returns the legacy attempt manager.
func NewV1(e Eth, storage *Storage, cfg V1Config) *V1 {
	return &V1{eth: e, storage: storage, cfg: cfg}
}

// Current returns the attempt in flight, nil when none.
func (m *V1) Current() *types.Attempt { return m.current }

// Fetch loads the persisted attempt into memory.
func (m *V1) Fetch(ctx context.Context) error {
	a, err := m.storage.Get(ctx)
	if err != nil {
		return err
	}
	m.current = a
	return nil
}

// Save persists the current attempt.
func (m *V1) Save(ctx context.Context) error {
	if m.current == nil {
		return ErrNoCurrentAttempt
	}
	return m.storage.Save(ctx, m.current)
}

// incGasPrice bumps price by incPercent, never by less than the absolute
// minimum increment.
func (m *V1) incGasPrice(price *big.Int, incPercent int) *big.Int {
	next := pctInc(price, incPercent)
	floor := new(big.Int).Add(price, m.cfg.MinGasPriceInc)
	if next.Cmp(floor) < 0 {
		return floor
	}
	return next
}

// nextGasPrice computes the retry price: the bumped last price saturated
// at the ceiling, but never below the current network average.
func (m *V1) nextGasPrice(last, avg *big.Int) *big.Int {
	next := m.incGasPrice(last, m.cfg.GasPriceIncPercent)
	if next.Cmp(m.cfg.MaxGasPrice) > 0 {
		log.Warnw("next gas price is not allowed, defaulting to max",
			"price", next.String(), "max", m.cfg.MaxGasPrice.String())
		next = new(big.Int).Set(m.cfg.MaxGasPrice)
	}
	if avg.Cmp(next) > 0 {
		return avg
	}
	return next
}

// Make computes the next attempt for tx. A fresh cycle (no previous
// attempt, a legacy-incompatible one, or a nonce already consumed) starts
// at the network average; otherwise the previous price is bumped.
func (m *V1) Make(ctx context.Context, tx *types.Tx) error {
	nonce, err := m.eth.Nonce(ctx, m.cfg.Source)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	log.Infow("received current nonce", "nonce", nonce)
	avg, err := m.eth.AvgGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetch average gas price: %w", err)
	}
	log.Infow("received average gas price", "price", avg.String())

	last := m.current
	var nextPrice *big.Int
	var index, waitTime int
	if last == nil || last.Fee.GasPrice == nil || nonce > last.Nonce {
		nextPrice = avg
		index = 1
		waitTime = m.cfg.BaseWaitingTime
	} else {
		nextPrice = m.nextGasPrice(last.Fee.GasPrice.MathBigInt(), avg)
		index = last.Index + 1
		waitTime = nextWaitTime(m.cfg.BaseWaitingTime, index, m.cfg.MaxWaitingTime)
	}
	log.Infow("calculated new gas price", "price", nextPrice.String())

	fee := types.Fee{GasPrice: types.FromBig(nextPrice)}
	tx.Nonce = &nonce
	gas, err := m.eth.CalculateGas(ctx, tx)
	if err != nil {
		return err
	}
	log.Infow("estimated gas", "gas", gas)
	tx.Gas = gas
	tx.Fee = fee

	m.current = &types.Attempt{
		TxID:     tx.ID,
		Nonce:    nonce,
		Index:    index,
		Fee:      fee,
		WaitTime: waitTime,
		Gas:      gas,
	}
	return nil
}

// Replace bumps the current price by the gentler gradual percent, capped
// at the ceiling, and applies the new fee to both the request and the
// attempt in flight.
func (m *V1) Replace(_ context.Context, tx *types.Tx, _ int) error {
	if m.current == nil {
		return ErrNoCurrentAttempt
	}
	price := m.incGasPrice(m.current.Fee.GasPrice.MathBigInt(), m.cfg.GradGasPriceIncPercent)
	if price.Cmp(m.cfg.MaxGasPrice) > 0 {
		log.Warnw("next gas price is not allowed, defaulting to max",
			"price", price.String(), "max", m.cfg.MaxGasPrice.String())
		price = new(big.Int).Set(m.cfg.MaxGasPrice)
	}
	fee := types.Fee{GasPrice: types.FromBig(price)}
	tx.Fee = fee
	m.current.Fee = fee
	return nil
}
