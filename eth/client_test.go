package eth

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/skalenetwork/transaction-manager/internal/testutil"
	"github.com/skalenetwork/transaction-manager/types"
)

func newTestTx() *types.Tx {
	nonce := uint64(4)
	return &types.Tx{
		ID:         "tx-1",
		Status:     types.TxStatusProposed,
		To:         "0x1057dc7277a319927D3eB43e05680B75a00eb5f4",
		Value:      types.NewBigInt(1),
		Nonce:      &nonce,
		Multiplier: 1.5,
		Data:       []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestAvgGasPrice(t *testing.T) {
	c := qt.New(t)
	backend := testutil.NewEthBackend()
	backend.GasPriceValue = big.NewInt(1_000_000_000)
	client := NewClient(backend, Options{AvgGasPriceIncPercent: 50})

	price, err := client.AvgGasPrice(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(price.Int64(), qt.Equals, int64(1_500_000_000))
}

func TestGetFeeHistory(t *testing.T) {
	c := qt.New(t)
	backend := testutil.NewEthBackend()
	backend.BaseFee = big.NewInt(7_000_000_000)
	backend.Tip = big.NewInt(2_000_000_000)
	client := NewClient(backend, Options{TargetRewardPercentile: 60})

	history, err := client.GetFeeHistory(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(history.EstimatedBaseFee.Int64(), qt.Equals, int64(7_000_000_000))
	c.Assert(history.GoodTip.Int64(), qt.Equals, int64(2_000_000_000))
}

func TestCalculateGas(t *testing.T) {
	c := qt.New(t)

	c.Run("estimation scaled by multiplier", func(c *qt.C) {
		backend := testutil.NewEthBackend()
		backend.Estimate = 100_000
		client := NewClient(backend, Options{})

		gas, err := client.CalculateGas(context.Background(), newTestTx())
		c.Assert(err, qt.IsNil)
		c.Assert(gas, qt.Equals, uint64(150_000))
	})

	c.Run("estimation disabled uses static hint", func(c *qt.C) {
		backend := testutil.NewEthBackend()
		client := NewClient(backend, Options{DisableGasEstimation: true, DefaultGasLimit: 1_000_000})

		tx := newTestTx()
		tx.Gas = 200_000
		gas, err := client.CalculateGas(context.Background(), tx)
		c.Assert(err, qt.IsNil)
		c.Assert(gas, qt.Equals, uint64(300_000))

		tx.Gas = 0
		gas, err = client.CalculateGas(context.Background(), tx)
		c.Assert(err, qt.IsNil)
		c.Assert(gas, qt.Equals, uint64(1_500_000))
	})

	c.Run("revert surfaces as ErrEstimateGasRevert", func(c *qt.C) {
		backend := testutil.NewEthBackend()
		backend.EstimateErr = errors.New("execution reverted: access denied")
		client := NewClient(backend, Options{})

		_, err := client.CalculateGas(context.Background(), newTestTx())
		c.Assert(err, qt.ErrorIs, ErrEstimateGasRevert)
	})

	c.Run("transient failure falls back to cached estimate", func(c *qt.C) {
		backend := testutil.NewEthBackend()
		backend.Estimate = 80_000
		client := NewClient(backend, Options{})

		tx := newTestTx()
		gas, err := client.CalculateGas(context.Background(), tx)
		c.Assert(err, qt.IsNil)
		c.Assert(gas, qt.Equals, uint64(120_000))

		backend.EstimateErr = errors.New("dial tcp: i/o timeout")
		gas, err = client.CalculateGas(context.Background(), tx)
		c.Assert(err, qt.IsNil)
		c.Assert(gas, qt.Equals, uint64(120_000))
	})

	c.Run("transient failure without cache fails", func(c *qt.C) {
		backend := testutil.NewEthBackend()
		backend.EstimateErr = errors.New("dial tcp: i/o timeout")
		client := NewClient(backend, Options{})

		_, err := client.CalculateGas(context.Background(), newTestTx())
		c.Assert(err, qt.IsNotNil)
		c.Assert(err, qt.Not(qt.ErrorIs), ErrEstimateGasRevert)
	})

	c.Run("clamped to block gas limit", func(c *qt.C) {
		backend := testutil.NewEthBackend()
		backend.Estimate = 25_000_000
		backend.GasLimit = 30_000_000
		client := NewClient(backend, Options{})

		gas, err := client.CalculateGas(context.Background(), newTestTx())
		c.Assert(err, qt.IsNil)
		c.Assert(gas, qt.Equals, uint64(30_000_000))
	})
}

func TestSendTxAndStatus(t *testing.T) {
	c := qt.New(t)
	backend := testutil.NewEthBackend()
	client := NewClient(backend, Options{})

	tx := newTestTx()
	tx.Fee.GasPrice = types.NewBigInt(2_000_000_000)
	tx.Gas = 21000
	envelope, err := ConvertTx(tx)
	c.Assert(err, qt.IsNil)

	hash, err := client.SendTx(context.Background(), envelope)
	c.Assert(err, qt.IsNil)
	c.Assert(hash, qt.Equals, envelope.Hash().Hex())
	c.Assert(backend.SentCount(), qt.Equals, 1)

	// No receipt yet.
	status, err := client.Status(context.Background(), hash)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, -1)

	backend.SetReceipt(hash, 1)
	status, err = client.Status(context.Background(), hash)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, 1)
}

func TestWaitForBlocks(t *testing.T) {
	c := qt.New(t)
	backend := testutil.NewEthBackend()
	backend.BlockStep = 1
	client := NewClient(backend, Options{})

	err := client.WaitForBlocks(context.Background(), 1, 5*time.Second)
	c.Assert(err, qt.IsNil)

	backend.BlockStep = 0
	err = client.WaitForBlocks(context.Background(), 1, 1500*time.Millisecond)
	c.Assert(err, qt.ErrorIs, ErrBlockTimeout)
}

func TestWaitForReceipt(t *testing.T) {
	c := qt.New(t)
	backend := testutil.NewEthBackend()
	client := NewClient(backend, Options{})
	backend.SetReceipt("0xabc", 0)

	status, err := client.WaitForReceipt(context.Background(), "0xabc", 5*time.Second)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, 0)

	_, err = client.WaitForReceipt(context.Background(), "0xdef", 1500*time.Millisecond)
	c.Assert(err, qt.ErrorIs, ErrReceiptTimeout)
}

func TestConvertTx(t *testing.T) {
	c := qt.New(t)

	c.Run("legacy envelope", func(c *qt.C) {
		tx := newTestTx()
		tx.Fee.GasPrice = types.NewBigInt(3_000_000_000)
		tx.Gas = 21000
		envelope, err := ConvertTx(tx)
		c.Assert(err, qt.IsNil)
		c.Assert(envelope.Type(), qt.Equals, uint8(0))
		c.Assert(envelope.GasPrice().Int64(), qt.Equals, int64(3_000_000_000))
		c.Assert(envelope.Nonce(), qt.Equals, uint64(4))
	})

	c.Run("dynamic fee envelope", func(c *qt.C) {
		tx := newTestTx()
		tx.ChainID = types.NewBigInt(1)
		tx.Fee.MaxFeePerGas = types.NewBigInt(5_000_000_000)
		tx.Fee.MaxPriorityFeePerGas = types.NewBigInt(1_000_000_000)
		tx.Gas = 21000
		envelope, err := ConvertTx(tx)
		c.Assert(err, qt.IsNil)
		c.Assert(envelope.Type(), qt.Equals, uint8(2))
		c.Assert(envelope.GasFeeCap().Int64(), qt.Equals, int64(5_000_000_000))
		c.Assert(envelope.GasTipCap().Int64(), qt.Equals, int64(1_000_000_000))
	})

	c.Run("missing fee rejected", func(c *qt.C) {
		tx := newTestTx()
		_, err := ConvertTx(tx)
		c.Assert(err, qt.IsNotNil)
	})

	c.Run("missing nonce rejected", func(c *qt.C) {
		tx := newTestTx()
		tx.Nonce = nil
		tx.Fee.GasPrice = types.NewBigInt(1)
		_, err := ConvertTx(tx)
		c.Assert(err, qt.IsNotNil)
	})
}
