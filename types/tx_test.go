package types

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestTxRoundTrip(t *testing.T) {
	c := qt.New(t)
	nonce := uint64(7)
	tx := &Tx{
		ID:         "tx-1234567890123456789",
		Status:     TxStatusSent,
		Score:      ComposeScore(2, time.Unix(1_700_000_000, 0)),
		To:         "0x1057dc7277a319927D3eB43e05680B75a00eb5f4",
		Value:      NewBigInt(9),
		From:       "0x0000000000000000000000000000000000000001",
		Nonce:      &nonce,
		ChainID:    NewBigInt(1),
		Gas:        200000,
		Data:       []byte{0xde, 0xad, 0xbe, 0xef},
		Multiplier: 1.5,
		Attempts:   2,
		Fee: Fee{
			MaxFeePerGas:         NewBigInt(3_000_000_000),
			MaxPriorityFeePerGas: NewBigInt(1_000_000_000),
		},
		TxHash: "0xaa",
		Hashes: []string{"0xbb", "0xaa"},
		SentTS: 1_700_000_100,
		Method: "transfer",
		Meta:   map[string]any{"origin": "test"},
	}
	data, err := tx.Encode()
	c.Assert(err, qt.IsNil)

	got, err := DecodeTx(tx.ID, data)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.CmpEquals(), tx)
}

func TestTxDecodeLegacyRecord(t *testing.T) {
	c := qt.New(t)
	// Pre-1559 record: no maxFeePerGas, no hashes, no tx_id inside.
	raw := `{
		"status": "SENT",
		"score": 20000001000,
		"to": "0x1057dc7277a319927D3eB43e05680B75a00eb5f4",
		"value": 9,
		"from": "0x0000000000000000000000000000000000000001",
		"nonce": 3,
		"chainId": 1,
		"gas": 21000,
		"attempts": 1,
		"tx_hash": "0xcc",
		"gasPrice": 1000000000
	}`
	tx, err := DecodeTx("legacy-1", []byte(raw))
	c.Assert(err, qt.IsNil)
	c.Assert(tx.ID, qt.Equals, "legacy-1")
	c.Assert(tx.Fee.GasPrice.Equal(NewBigInt(1000000000)), qt.IsTrue)
	c.Assert(tx.Fee.MaxFeePerGas, qt.IsNil)
	c.Assert(tx.Fee.IsDynamic(), qt.IsFalse)
	c.Assert(tx.Hashes, qt.DeepEquals, []string{"0xcc"})
	c.Assert(tx.TxHash, qt.Equals, "0xcc")
	c.Assert(tx.Multiplier, qt.Equals, DefaultGasMultiplier)
}

func TestTxDecodeHardErrors(t *testing.T) {
	c := qt.New(t)
	cases := map[string]string{
		"garbage":        `not json`,
		"no status":      `{"to": "0x10"}`,
		"unknown status": `{"status": "WAT", "to": "0x10"}`,
		"no destination": `{"status": "PROPOSED"}`,
	}
	for name, raw := range cases {
		c.Run(name, func(c *qt.C) {
			_, err := DecodeTx("bad-1", []byte(raw))
			c.Assert(err, qt.ErrorIs, ErrInvalidFormat)
		})
	}
}

func TestTxStateHelpers(t *testing.T) {
	c := qt.New(t)
	tx := &Tx{ID: "tx-1", Status: TxStatusProposed, To: "0x10"}
	c.Assert(tx.IsSent(), qt.IsFalse)

	tx.SetAsSent("0xaa")
	c.Assert(tx.Status, qt.Equals, TxStatusSent)
	c.Assert(tx.IsSent(), qt.IsTrue)
	c.Assert(tx.Hashes, qt.DeepEquals, []string{"0xaa"})
	c.Assert(tx.SentTS, qt.Not(qt.Equals), int64(0))

	tx.SetAsSent("0xbb")
	c.Assert(tx.Hashes, qt.DeepEquals, []string{"0xaa", "0xbb"})
	c.Assert(tx.TxHash, qt.Equals, "0xbb")

	tx.SetAsCompleted("0xbb", 1)
	c.Assert(tx.Status, qt.Equals, TxStatusSuccess)
	c.Assert(tx.IsCompleted(), qt.IsTrue)

	tx.SetAsCompleted("0xbb", 0)
	c.Assert(tx.Status, qt.Equals, TxStatusFailed)
}

func TestTxFromBridge(t *testing.T) {
	c := qt.New(t)
	bridge := &Tx{ID: "0123456789012345678-js"}
	plain := &Tx{ID: "0123456789012345678"}
	short := &Tx{ID: "js"}
	c.Assert(bridge.FromBridge(19, "js"), qt.IsTrue)
	c.Assert(plain.FromBridge(19, "js"), qt.IsFalse)
	c.Assert(short.FromBridge(19, "js"), qt.IsFalse)
}

func TestComposeScore(t *testing.T) {
	c := qt.New(t)
	ts := time.Unix(1_700_000_000, 0)
	low := ComposeScore(1, ts)
	high := ComposeScore(2, ts)
	c.Assert(low < high, qt.IsTrue)
	// Ties within a priority class break by earlier submission.
	later := ComposeScore(1, ts.Add(time.Second))
	c.Assert(low < later, qt.IsTrue)
	c.Assert(later < high, qt.IsTrue)
}
