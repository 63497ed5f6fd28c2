package types

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestAttemptRoundTrip(t *testing.T) {
	c := qt.New(t)
	a := &Attempt{
		TxID:  "tx-1",
		Nonce: 5,
		Index: 2,
		Fee: Fee{
			MaxFeePerGas:         NewBigInt(4_500_000_000),
			MaxPriorityFeePerGas: NewBigInt(1_500_000_000),
		},
		WaitTime: 70,
		Gas:      21000,
	}
	data, err := a.Encode()
	c.Assert(err, qt.IsNil)

	got, err := DecodeAttempt(data)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.CmpEquals(), a)
}

func TestAttemptDecodeLegacyGasPrice(t *testing.T) {
	c := qt.New(t)
	raw := `{"tx_id": "tx-1", "nonce": 3, "index": 1, "gas_price": 2000000000, "wait_time": 40}`
	a, err := DecodeAttempt([]byte(raw))
	c.Assert(err, qt.IsNil)
	c.Assert(a.Fee.GasPrice.Equal(NewBigInt(2000000000)), qt.IsTrue)
	c.Assert(a.Fee.MaxFeePerGas, qt.IsNil)
	c.Assert(a.Nonce, qt.Equals, uint64(3))
	c.Assert(a.WaitTime, qt.Equals, 40)
}

func TestAttemptDecodeInvalid(t *testing.T) {
	c := qt.New(t)
	_, err := DecodeAttempt([]byte("not json"))
	c.Assert(err, qt.ErrorIs, ErrInvalidFormat)
}
