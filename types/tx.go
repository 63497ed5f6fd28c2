// Package types defines the transaction request and attempt records shared
// between producers and the processor, together with their JSON codecs.
// The wire shapes are backward compatible: records written before the
// EIP-1559 support (no maxFeePerGas, no hashes list) decode and upgrade
// transparently.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidFormat is returned when a pool record cannot be decoded.
var ErrInvalidFormat = errors.New("invalid record format")

// DefaultGasMultiplier is applied to the estimated gas when the record
// carries no multiplier of its own.
const DefaultGasMultiplier = 1.2

// scoreBase shifts the priority above any unix timestamp so that the pool
// orders by priority first and submission time second.
const scoreBase = int64(10_000_000_000)

// ComposeScore builds the pool score for a request: lower priority value
// means dispatched sooner, ties broken by earlier submission.
func ComposeScore(priority int64, ts time.Time) int64 {
	return priority*scoreBase + ts.Unix()
}

// Fee is a tagged union: exactly one of {GasPrice} or
// {MaxFeePerGas, MaxPriorityFeePerGas} is populated at send time.
type Fee struct {
	GasPrice             *BigInt `json:"gas_price"`
	MaxFeePerGas         *BigInt `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas *BigInt `json:"max_priority_fee_per_gas"`
}

// IsEmpty reports whether no fee variant is populated.
func (f Fee) IsEmpty() bool {
	return f.GasPrice == nil && f.MaxFeePerGas == nil && f.MaxPriorityFeePerGas == nil
}

// IsDynamic reports whether the EIP-1559 variant is populated.
func (f Fee) IsDynamic() bool {
	return f.MaxFeePerGas != nil && f.MaxPriorityFeePerGas != nil
}

// Cap returns the effective per-gas ceiling of the fee: the gas price for
// legacy fees, the max fee per gas for dynamic ones. Nil when unset.
func (f Fee) Cap() *BigInt {
	if f.IsDynamic() {
		return f.MaxFeePerGas
	}
	return f.GasPrice
}

// Tx is a transaction request. Producers create it (status PROPOSED); the
// processor mutates it through the state machine until a terminal status.
type Tx struct {
	ID         string
	Status     TxStatus
	Score      int64
	To         string
	Value      *BigInt
	From       string
	Nonce      *uint64
	ChainID    *BigInt
	Gas        uint64 // 0 means no static gas hint
	Data       []byte
	Multiplier float64
	Attempts   int
	Fee        Fee
	TxHash     string // empty until the first successful submission
	Hashes     []string
	SentTS     int64 // unix seconds of the last successful submission
	Method     string
	Meta       map[string]any
}

// IsSent reports whether the tx has been submitted on-wire at least once.
func (tx *Tx) IsSent() bool { return tx.TxHash != "" }

// IsMined reports whether a receipt has been observed for the tx.
func (tx *Tx) IsMined() bool {
	return tx.Status == TxStatusMined || tx.Status == TxStatusSuccess || tx.Status == TxStatusFailed
}

// IsCompleted reports whether the tx reached a terminal status.
func (tx *Tx) IsCompleted() bool { return tx.Status.IsTerminal() }

// IsLastAttempt reports whether the attempt budget is exhausted.
// Strict-greater: the tx is dropped only once attempts exceeds the budget.
func (tx *Tx) IsLastAttempt(maxResubmit int) bool { return tx.Attempts > maxResubmit }

// FromBridge reports whether the request originates from the bridge
// component: a longer-than-default id ending in the configured suffix.
// Bridge calls are idempotent re-sends and are force-dropped on pre-flight
// revert instead of blocking the queue.
func (tx *Tx) FromBridge(defaultIDLen int, suffix string) bool {
	return len(tx.ID) > defaultIDLen && strings.HasSuffix(tx.ID, suffix)
}

// SetAsSent records a successful on-wire submission.
func (tx *Tx) SetAsSent(hash string) {
	tx.Status = TxStatusSent
	tx.TxHash = hash
	tx.SentTS = time.Now().Unix()
	tx.Hashes = append(tx.Hashes, hash)
}

// SetAsMined records an observed receipt.
func (tx *Tx) SetAsMined() { tx.Status = TxStatusMined }

// SetAsCompleted records the confirmed outcome for the given hash.
func (tx *Tx) SetAsCompleted(hash string, receiptStatus int) {
	tx.TxHash = hash
	if receiptStatus == 1 {
		tx.Status = TxStatusSuccess
	} else {
		tx.Status = TxStatusFailed
	}
}

// SetAsDropped marks the request as abandoned.
func (tx *Tx) SetAsDropped() { tx.Status = TxStatusDropped }

// txJSON is the exact stored record shape. Fee fields are flattened at the
// top level with web3-style names; unused ones are null.
type txJSON struct {
	ID                   string         `json:"tx_id"`
	Status               *string        `json:"status"`
	Score                int64          `json:"score"`
	To                   *string        `json:"to"`
	Value                *BigInt        `json:"value"`
	From                 *string        `json:"from"`
	Nonce                *uint64        `json:"nonce"`
	ChainID              *BigInt        `json:"chainId"`
	Gas                  *uint64        `json:"gas"`
	Data                 *hexutil.Bytes `json:"data"`
	Multiplier           *float64       `json:"multiplier"`
	Attempts             int            `json:"attempts"`
	TxHash               *string        `json:"tx_hash"`
	Hashes               []string       `json:"hashes"`
	SentTS               *int64         `json:"sent_ts"`
	Method               *string        `json:"method"`
	Meta                 map[string]any `json:"meta"`
	GasPrice             *BigInt        `json:"gasPrice"`
	MaxFeePerGas         *BigInt        `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *BigInt        `json:"maxPriorityFeePerGas"`
}

// Encode serializes the tx into its stored JSON record.
func (tx *Tx) Encode() ([]byte, error) {
	raw := txJSON{
		ID:                   tx.ID,
		Score:                tx.Score,
		Value:                tx.Value,
		Nonce:                tx.Nonce,
		ChainID:              tx.ChainID,
		Attempts:             tx.Attempts,
		Hashes:               tx.Hashes,
		Meta:                 tx.Meta,
		GasPrice:             tx.Fee.GasPrice,
		MaxFeePerGas:         tx.Fee.MaxFeePerGas,
		MaxPriorityFeePerGas: tx.Fee.MaxPriorityFeePerGas,
	}
	status := string(tx.Status)
	raw.Status = &status
	raw.To = &tx.To
	if raw.Hashes == nil {
		raw.Hashes = []string{}
	}
	if tx.From != "" {
		raw.From = &tx.From
	}
	if tx.Gas != 0 {
		gas := tx.Gas
		raw.Gas = &gas
	}
	if tx.Data != nil {
		data := hexutil.Bytes(tx.Data)
		raw.Data = &data
	}
	multiplier := tx.Multiplier
	if multiplier == 0 {
		multiplier = DefaultGasMultiplier
	}
	raw.Multiplier = &multiplier
	if tx.TxHash != "" {
		hash := tx.TxHash
		raw.TxHash = &hash
	}
	if tx.SentTS != 0 {
		ts := tx.SentTS
		raw.SentTS = &ts
	}
	if tx.Method != "" {
		method := tx.Method
		raw.Method = &method
	}
	return json.Marshal(raw)
}

// DecodeTx deserializes a stored record, upgrading legacy shapes on the
// fly: records without maxFeePerGas, hashes or tx_id are accepted. A
// missing or unknown status, or a missing destination, is a hard
// ErrInvalidFormat.
func DecodeTx(id string, data []byte) (*Tx, error) {
	var raw txJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: tx %s: %v", ErrInvalidFormat, id, err)
	}
	if raw.Status == nil {
		return nil, fmt.Errorf("%w: tx %s has no status", ErrInvalidFormat, id)
	}
	status, err := ParseStatus(*raw.Status)
	if err != nil {
		return nil, err
	}
	if raw.To == nil || *raw.To == "" {
		return nil, fmt.Errorf("%w: tx %s has no destination", ErrInvalidFormat, id)
	}

	tx := &Tx{
		ID:       id,
		Status:   status,
		Score:    raw.Score,
		To:       *raw.To,
		Value:    raw.Value,
		Nonce:    raw.Nonce,
		ChainID:  raw.ChainID,
		Attempts: raw.Attempts,
		Hashes:   raw.Hashes,
		Meta:     raw.Meta,
		Fee: Fee{
			GasPrice:             raw.GasPrice,
			MaxFeePerGas:         raw.MaxFeePerGas,
			MaxPriorityFeePerGas: raw.MaxPriorityFeePerGas,
		},
	}
	if tx.Value == nil {
		tx.Value = NewBigInt(0)
	}
	if raw.From != nil {
		tx.From = *raw.From
	}
	if raw.Gas != nil {
		tx.Gas = *raw.Gas
	}
	if raw.Data != nil {
		tx.Data = *raw.Data
	}
	tx.Multiplier = DefaultGasMultiplier
	if raw.Multiplier != nil && *raw.Multiplier > 0 {
		tx.Multiplier = *raw.Multiplier
	}
	if raw.TxHash != nil {
		tx.TxHash = *raw.TxHash
	}
	if tx.Hashes == nil {
		tx.Hashes = []string{}
	}
	// Pre-1559 records tracked a single hash only.
	if tx.TxHash != "" && len(tx.Hashes) == 0 {
		tx.Hashes = []string{tx.TxHash}
	}
	if raw.SentTS != nil {
		tx.SentTS = *raw.SentTS
	}
	if raw.Method != nil {
		tx.Method = *raw.Method
	}
	return tx, nil
}
