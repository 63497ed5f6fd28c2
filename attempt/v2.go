package attempt

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/skalenetwork/transaction-manager/log"
	"github.com/skalenetwork/transaction-manager/types"
)

// V2Config tunes the EIP-1559 policy.
type V2Config struct {
	// Source is the dispatch account.
	Source common.Address
	// BaseWaitingTime is the first-attempt receipt wait in seconds.
	BaseWaitingTime int
	// MaxWaitingTime caps the receipt wait of late attempts.
	MaxWaitingTime int
	// MinPriorityFee is the tip floor in wei.
	MinPriorityFee *big.Int
	// FeeIncPercent is the retry bump.
	FeeIncPercent int
	// MinFeeIncPercent is both the replacement bump and the smallest bump
	// ever applied.
	MinFeeIncPercent int
	// MaxFeeValue is the absolute per-gas ceiling in wei.
	MaxFeeValue *big.Int
	// BaseFeeAdjustmentPercent widens the initial fee cap over the base
	// fee to absorb base fee growth across retries.
	BaseFeeAdjustmentPercent int
	// HardReplaceStartIndex is the replacement count after which the tip
	// is collapsed towards the cap to displace legacy-priced competitors.
	HardReplaceStartIndex int
	// HardReplaceTipOffset is the cap-to-tip distance kept when
	// collapsing, in wei.
	HardReplaceTipOffset *big.Int
}

// V2 is the EIP-1559 attempt policy: tip from the recent reward
// percentile, cap derived from the base fee, both bumped on retries and
// saturated at the ceiling.
type V2 struct {
	eth     Eth
	storage *Storage
	cfg     V2Config
	current *types.Attempt
}

// NewV2 returns the EIP-1559 attempt manager.
func NewV2(e Eth, storage *Storage, cfg V2Config) *V2 {
	return &V2{eth: e, storage: storage, cfg: cfg}
}

// Current returns the attempt in flight, nil when none.
func (m *V2) Current() *types.Attempt { return m.current }

// Fetch loads the persisted attempt into memory.
func (m *V2) Fetch(ctx context.Context) error {
	a, err := m.storage.Get(ctx)
	if err != nil {
		return err
	}
	m.current = a
	return nil
}

// Save persists the current attempt.
func (m *V2) Save(ctx context.Context) error {
	if m.current == nil {
		return ErrNoCurrentAttempt
	}
	return m.storage.Save(ctx, m.current)
}

// incFeeValue bumps value by at least the minimum percent, saturates at
// the ceiling and never returns less than minFee. minFee may be nil.
func (m *V2) incFeeValue(value *big.Int, incPercent int, minFee *big.Int) *big.Int {
	if incPercent < m.cfg.MinFeeIncPercent {
		incPercent = m.cfg.MinFeeIncPercent
	}
	next := pctInc(value, incPercent)
	if next.Cmp(m.cfg.MaxFeeValue) > 0 {
		next = new(big.Int).Set(m.cfg.MaxFeeValue)
	}
	if minFee != nil && next.Cmp(minFee) < 0 {
		return new(big.Int).Set(minFee)
	}
	return next
}

// initialFee builds the first-attempt fee from the fee history digest:
// tip floored at the minimum priority fee, cap a configured percentage
// above max(tip, base fee), both saturated at the ceiling.
func (m *V2) initialFee(estimatedBaseFee, goodTip *big.Int) types.Fee {
	tip := new(big.Int).Set(goodTip)
	if tip.Cmp(m.cfg.MinPriorityFee) < 0 {
		tip = new(big.Int).Set(m.cfg.MinPriorityFee)
	}
	rawCap := tip
	if estimatedBaseFee.Cmp(rawCap) > 0 {
		rawCap = estimatedBaseFee
	}
	feeCap := pctInc(rawCap, m.cfg.BaseFeeAdjustmentPercent)
	if feeCap.Cmp(m.cfg.MaxFeeValue) > 0 {
		log.Warnw("initial fee is not allowed, defaulting to max",
			"fee", feeCap.String(), "max", m.cfg.MaxFeeValue.String())
		feeCap = new(big.Int).Set(m.cfg.MaxFeeValue)
	}
	if tip.Cmp(m.cfg.MaxFeeValue) > 0 {
		tip = new(big.Int).Set(m.cfg.MaxFeeValue)
	}
	return types.Fee{
		MaxFeePerGas:         types.FromBig(feeCap),
		MaxPriorityFeePerGas: types.FromBig(tip),
	}
}

// Make computes the next attempt for tx. A fresh cycle (no previous
// attempt, a legacy one, or a nonce already consumed) prices from the fee
// history; otherwise the previous tip and cap are bumped, floored at the
// current network values.
func (m *V2) Make(ctx context.Context, tx *types.Tx) error {
	nonce, err := m.eth.Nonce(ctx, m.cfg.Source)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	log.Infow("received current nonce", "nonce", nonce)
	history, err := m.eth.GetFeeHistory(ctx)
	if err != nil {
		return fmt.Errorf("fetch fee history: %w", err)
	}
	log.Infow("received fee history",
		"baseFee", history.EstimatedBaseFee.String(), "tip", history.GoodTip.String())

	last := m.current
	var nextFee types.Fee
	var index, waitTime int
	if last == nil || nonce > last.Nonce || !last.Fee.IsDynamic() {
		index = 1
		nextFee = m.initialFee(history.EstimatedBaseFee, history.GoodTip)
		waitTime = m.cfg.BaseWaitingTime
	} else {
		index = last.Index + 1
		tip := m.incFeeValue(last.Fee.MaxPriorityFeePerGas.MathBigInt(), m.cfg.FeeIncPercent, history.GoodTip)
		feeCap := m.incFeeValue(last.Fee.MaxFeePerGas.MathBigInt(), m.cfg.FeeIncPercent, history.EstimatedBaseFee)
		nextFee = types.Fee{
			MaxFeePerGas:         types.FromBig(feeCap),
			MaxPriorityFeePerGas: types.FromBig(tip),
		}
		waitTime = nextWaitTime(m.cfg.BaseWaitingTime, index, m.cfg.MaxWaitingTime)
	}
	log.Infow("next fee calculated",
		"maxFeePerGas", nextFee.MaxFeePerGas.String(),
		"maxPriorityFeePerGas", nextFee.MaxPriorityFeePerGas.String())

	tx.Fee = nextFee
	tx.Nonce = &nonce
	estimated, err := m.eth.CalculateGas(ctx, tx)
	if err != nil {
		return err
	}
	log.Infow("estimated gas", "gas", estimated)

	// A static gas hint larger than the estimation is honored only while
	// the account balance covers it at the attempt cap.
	if tx.Gas > estimated {
		value := tx.Value.MathBigInt()
		if value == nil {
			value = big.NewInt(0)
		}
		allowed, err := m.maxAllowedFee(ctx, tx.Gas, value)
		if err != nil {
			return err
		}
		if allowed.Cmp(nextFee.MaxFeePerGas.MathBigInt()) < 0 {
			log.Warnw("suggested fee exceeds allowance, defaulting to estimated gas",
				"hint", tx.Gas, "estimated", estimated)
			tx.Gas = estimated
		} else {
			log.Infow("estimated gas ignored in favor of static hint",
				"hint", tx.Gas, "estimated", estimated)
		}
	} else {
		tx.Gas = estimated
	}

	m.current = &types.Attempt{
		TxID:     tx.ID,
		Nonce:    nonce,
		Index:    index,
		Fee:      nextFee,
		WaitTime: waitTime,
		Gas:      tx.Gas,
	}
	return nil
}

// maxAllowedFee returns the per-gas price the account can afford for the
// given gas budget after reserving the transferred value.
func (m *V2) maxAllowedFee(ctx context.Context, gas uint64, value *big.Int) (*big.Int, error) {
	balance, err := m.eth.Balance(ctx, m.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	spendable := new(big.Int).Sub(balance, value)
	if spendable.Sign() < 0 {
		spendable.SetInt64(0)
	}
	return spendable.Div(spendable, new(big.Int).SetUint64(gas)), nil
}

// Replace bumps the tip and cap by the minimal percent. After several
// consecutive replacements the tip is collapsed to just under the cap,
// emulating a legacy-priced transaction to displace stuck competitors.
func (m *V2) Replace(_ context.Context, tx *types.Tx, replaceAttempt int) error {
	if m.current == nil {
		return ErrNoCurrentAttempt
	}
	tip := m.incFeeValue(m.current.Fee.MaxPriorityFeePerGas.MathBigInt(), m.cfg.MinFeeIncPercent, nil)
	feeCap := m.incFeeValue(m.current.Fee.MaxFeePerGas.MathBigInt(), m.cfg.MinFeeIncPercent, nil)
	if feeCap.Cmp(m.cfg.MaxFeeValue) == 0 {
		log.Warnw("next fee is not allowed, defaulting to max", "max", m.cfg.MaxFeeValue.String())
	}
	collapsed := new(big.Int).Sub(feeCap, m.cfg.HardReplaceTipOffset)
	if replaceAttempt >= m.cfg.HardReplaceStartIndex && tip.Cmp(collapsed) < 0 {
		tip = collapsed
	}
	fee := types.Fee{
		MaxFeePerGas:         types.FromBig(feeCap),
		MaxPriorityFeePerGas: types.FromBig(tip),
	}
	tx.Fee = fee
	m.current.Fee = fee
	return nil
}
