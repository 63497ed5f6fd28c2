package attempt

import (
	"context"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/skalenetwork/transaction-manager/eth"
	"github.com/skalenetwork/transaction-manager/internal/testutil"
	"github.com/skalenetwork/transaction-manager/types"
)

func newV2(t *testing.T) (*V2, *testutil.EthBackend) {
	t.Helper()
	backend := testutil.NewEthBackend()
	client := eth.NewClient(backend, eth.Options{TargetRewardPercentile: 60})
	cfg := V2Config{
		Source:                   testSource,
		BaseWaitingTime:          30,
		MaxWaitingTime:           500,
		MinPriorityFee:           gwei(1),
		FeeIncPercent:            12,
		MinFeeIncPercent:         5,
		MaxFeeValue:              gwei(1000),
		BaseFeeAdjustmentPercent: 50,
		HardReplaceStartIndex:    3,
		HardReplaceTipOffset:     gwei(10),
	}
	return NewV2(client, newTestStorage(t), cfg), backend
}

func v2TestTx() *types.Tx {
	return &types.Tx{
		ID:      "tx-1",
		Status:  types.TxStatusSeen,
		To:      testSource.Hex(),
		Value:   types.NewBigInt(1),
		ChainID: types.NewBigInt(1),
	}
}

func TestV2MakeInitial(t *testing.T) {
	c := qt.New(t)
	m, backend := newV2(t)
	backend.BaseFee = gwei(10)
	backend.Tip = gwei(2)
	ctx := context.Background()

	tx := v2TestTx()
	c.Assert(m.Make(ctx, tx), qt.IsNil)

	a := m.Current()
	c.Assert(a, qt.IsNotNil)
	c.Assert(a.Index, qt.Equals, 1)
	c.Assert(a.WaitTime, qt.Equals, 30)
	// tip = max(1, 2) = 2 gwei; cap = 150% of max(tip, baseFee) = 15 gwei.
	c.Assert(a.Fee.MaxPriorityFeePerGas.MathBigInt(), bigIntEquals, gwei(2))
	c.Assert(a.Fee.MaxFeePerGas.MathBigInt(), bigIntEquals, gwei(15))
	c.Assert(tx.Fee, qt.CmpEquals(), a.Fee)
	c.Assert(tx.Gas, qt.Equals, uint64(25200))
}

func TestV2MakeTipFloor(t *testing.T) {
	c := qt.New(t)
	m, backend := newV2(t)
	backend.BaseFee = gwei(10)
	backend.Tip = big.NewInt(500_000_000) // below the 1 gwei floor
	ctx := context.Background()

	tx := v2TestTx()
	c.Assert(m.Make(ctx, tx), qt.IsNil)
	c.Assert(m.Current().Fee.MaxPriorityFeePerGas.MathBigInt(), bigIntEquals, gwei(1))
}

func TestV2MakeInitialSaturatesAtMax(t *testing.T) {
	c := qt.New(t)
	m, backend := newV2(t)
	// 150% of a 900 gwei base fee would exceed the 1000 gwei ceiling.
	backend.BaseFee = gwei(900)
	backend.Tip = gwei(2)
	ctx := context.Background()

	tx := v2TestTx()
	c.Assert(m.Make(ctx, tx), qt.IsNil)

	a := m.Current()
	c.Assert(a.Index, qt.Equals, 1)
	c.Assert(a.Fee.MaxFeePerGas.MathBigInt(), bigIntEquals, gwei(1000))
	c.Assert(a.Fee.MaxPriorityFeePerGas.MathBigInt(), bigIntEquals, gwei(2))
}

func TestV2MakeRetry(t *testing.T) {
	c := qt.New(t)
	m, backend := newV2(t)
	backend.BaseFee = gwei(10)
	backend.Tip = gwei(2)
	ctx := context.Background()

	m.current = &types.Attempt{
		TxID:  "tx-1",
		Nonce: 0,
		Index: 1,
		Fee: types.Fee{
			MaxFeePerGas:         types.FromBig(gwei(15)),
			MaxPriorityFeePerGas: types.FromBig(gwei(2)),
		},
		WaitTime: 30,
	}
	tx := v2TestTx()
	c.Assert(m.Make(ctx, tx), qt.IsNil)

	a := m.Current()
	c.Assert(a.Index, qt.Equals, 2)
	c.Assert(a.WaitTime, qt.Equals, 70)
	// +12%: tip 2.24 gwei, cap 16.8 gwei, both above the network floors.
	c.Assert(a.Fee.MaxPriorityFeePerGas.MathBigInt(), bigIntEquals, big.NewInt(2_240_000_000))
	c.Assert(a.Fee.MaxFeePerGas.MathBigInt(), bigIntEquals, big.NewInt(16_800_000_000))
}

func TestV2MakeRetryFlooredByNetwork(t *testing.T) {
	c := qt.New(t)
	m, backend := newV2(t)
	backend.BaseFee = gwei(10)
	backend.Tip = gwei(4)
	ctx := context.Background()

	// Last attempt priced well below the current network.
	m.current = &types.Attempt{
		TxID:  "tx-1",
		Nonce: 0,
		Index: 1,
		Fee: types.Fee{
			MaxFeePerGas:         types.FromBig(gwei(5)),
			MaxPriorityFeePerGas: types.FromBig(gwei(1)),
		},
	}
	tx := v2TestTx()
	c.Assert(m.Make(ctx, tx), qt.IsNil)

	a := m.Current()
	c.Assert(a.Fee.MaxPriorityFeePerGas.MathBigInt(), bigIntEquals, gwei(4))
	c.Assert(a.Fee.MaxFeePerGas.MathBigInt(), bigIntEquals, gwei(10))
}

func TestV2MakeSaturatesAtMax(t *testing.T) {
	c := qt.New(t)
	m, backend := newV2(t)
	backend.BaseFee = gwei(10)
	backend.Tip = gwei(2)
	ctx := context.Background()

	m.current = &types.Attempt{
		TxID:  "tx-1",
		Nonce: 0,
		Index: 4,
		Fee: types.Fee{
			MaxFeePerGas:         types.FromBig(gwei(950)),
			MaxPriorityFeePerGas: types.FromBig(gwei(2)),
		},
	}
	tx := v2TestTx()
	c.Assert(m.Make(ctx, tx), qt.IsNil)
	c.Assert(m.Current().Fee.MaxFeePerGas.MathBigInt(), bigIntEquals, gwei(1000))
}

func TestV2MakeFreshAfterLegacyAttempt(t *testing.T) {
	c := qt.New(t)
	m, backend := newV2(t)
	backend.BaseFee = gwei(10)
	backend.Tip = gwei(2)
	ctx := context.Background()

	// A persisted legacy attempt restarts the pricing cycle.
	m.current = &types.Attempt{
		TxID:  "tx-1",
		Nonce: 0,
		Index: 6,
		Fee:   types.Fee{GasPrice: types.FromBig(gwei(200))},
	}
	tx := v2TestTx()
	c.Assert(m.Make(ctx, tx), qt.IsNil)

	a := m.Current()
	c.Assert(a.Index, qt.Equals, 1)
	c.Assert(a.Fee.IsDynamic(), qt.IsTrue)
	c.Assert(a.Fee.MaxFeePerGas.MathBigInt(), bigIntEquals, gwei(15))
}

func TestV2MakeBalanceGuard(t *testing.T) {
	c := qt.New(t)

	c.Run("hint kept when balance covers it", func(c *qt.C) {
		m, backend := newV2(t)
		backend.BaseFee = gwei(10)
		backend.Tip = gwei(2)

		tx := v2TestTx()
		tx.Gas = 1_000_000
		c.Assert(m.Make(context.Background(), tx), qt.IsNil)
		c.Assert(tx.Gas, qt.Equals, uint64(1_000_000))
		c.Assert(m.Current().Gas, qt.Equals, uint64(1_000_000))
	})

	c.Run("hint dropped when balance cannot cover it", func(c *qt.C) {
		m, backend := newV2(t)
		backend.BaseFee = gwei(10)
		backend.Tip = gwei(2)
		backend.BalanceValue = big.NewInt(1_000_000_000_000) // 1e12 wei

		tx := v2TestTx()
		tx.Gas = 1_000_000
		c.Assert(m.Make(context.Background(), tx), qt.IsNil)
		c.Assert(tx.Gas, qt.Equals, uint64(25200))
		c.Assert(m.Current().Gas, qt.Equals, uint64(25200))
	})
}

func TestV2Replace(t *testing.T) {
	c := qt.New(t)

	newCurrent := func() *types.Attempt {
		return &types.Attempt{
			TxID:  "tx-1",
			Nonce: 0,
			Index: 2,
			Fee: types.Fee{
				MaxFeePerGas:         types.FromBig(gwei(100)),
				MaxPriorityFeePerGas: types.FromBig(gwei(2)),
			},
		}
	}

	c.Run("minimal bump", func(c *qt.C) {
		m, _ := newV2(t)
		m.current = newCurrent()
		tx := v2TestTx()
		c.Assert(m.Replace(context.Background(), tx, 0), qt.IsNil)

		// +5% on both components.
		c.Assert(tx.Fee.MaxPriorityFeePerGas.MathBigInt(), bigIntEquals, big.NewInt(2_100_000_000))
		c.Assert(tx.Fee.MaxFeePerGas.MathBigInt(), bigIntEquals, gwei(105))
		c.Assert(m.Current().Fee, qt.CmpEquals(), tx.Fee)
	})

	c.Run("hard replace collapses the tip", func(c *qt.C) {
		m, _ := newV2(t)
		m.current = newCurrent()
		tx := v2TestTx()
		c.Assert(m.Replace(context.Background(), tx, 3), qt.IsNil)

		// tip jumps to cap minus the offset: 105 - 10 = 95 gwei.
		c.Assert(tx.Fee.MaxFeePerGas.MathBigInt(), bigIntEquals, gwei(105))
		c.Assert(tx.Fee.MaxPriorityFeePerGas.MathBigInt(), bigIntEquals, gwei(95))
	})

	c.Run("no current attempt", func(c *qt.C) {
		m, _ := newV2(t)
		c.Assert(m.Replace(context.Background(), v2TestTx(), 0), qt.ErrorIs, ErrNoCurrentAttempt)
	})
}
