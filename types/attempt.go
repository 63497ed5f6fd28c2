package types

import (
	"encoding/json"
	"fmt"
)

// Attempt is the persisted record of the last on-wire submission. It is
// rewritten on every successful send and read back at startup so that a
// restarted processor continues from the last used (nonce, fee) pair
// instead of reusing it.
type Attempt struct {
	TxID     string `json:"tx_id"`
	Nonce    uint64 `json:"nonce"`
	Index    int    `json:"index"`
	Fee      Fee    `json:"fee"`
	WaitTime int    `json:"wait_time"`
	Gas      uint64 `json:"gas"`
}

// Encode serializes the attempt into its stored JSON record.
func (a *Attempt) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// attemptJSON tolerates the legacy shape where the fee was a bare
// top-level gas_price field.
type attemptJSON struct {
	TxID     string  `json:"tx_id"`
	Nonce    uint64  `json:"nonce"`
	Index    int     `json:"index"`
	Fee      *Fee    `json:"fee"`
	WaitTime int     `json:"wait_time"`
	Gas      uint64  `json:"gas"`
	GasPrice *BigInt `json:"gas_price"`
}

// DecodeAttempt deserializes a stored attempt record, folding a legacy
// top-level gas_price into the fee union.
func DecodeAttempt(data []byte) (*Attempt, error) {
	var raw attemptJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: attempt: %v", ErrInvalidFormat, err)
	}
	a := &Attempt{
		TxID:     raw.TxID,
		Nonce:    raw.Nonce,
		Index:    raw.Index,
		WaitTime: raw.WaitTime,
		Gas:      raw.Gas,
	}
	switch {
	case raw.Fee != nil:
		a.Fee = *raw.Fee
	case raw.GasPrice != nil:
		a.Fee = Fee{GasPrice: raw.GasPrice}
	}
	return a, nil
}
