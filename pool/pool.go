// Package pool implements the Redis-backed transaction queue: a sorted set
// of request ids ordered by score plus one TTL'd JSON record per request.
// Producers push with Submit; the processor drains with FetchNext and
// writes results back with Save and Release.
package pool

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skalenetwork/transaction-manager/log"
	"github.com/skalenetwork/transaction-manager/types"
)

// poolKey is the sorted set holding the pending request ids.
const poolKey = "transactions"

// idPrefix prefixes every generated request id.
const idPrefix = "tx-"

// ErrNotFound is returned when a request record does not exist in Redis.
var ErrNotFound = errors.New("tx record not found")

// Options tunes the pool behavior.
type Options struct {
	// RecordTTL is the expiration applied to every request record write.
	RecordTTL time.Duration
	// IDLen is the total length of generated request ids.
	IDLen int
	// BridgeSuffix is appended to ids of bridge submissions.
	BridgeSuffix string
	// GasMultiplier is stamped on submissions that carry none.
	GasMultiplier float64
}

// Pool is the Redis transaction queue.
type Pool struct {
	rdb  *redis.Client
	opts Options
}

// New returns a pool over the given Redis connection.
func New(rdb *redis.Client, opts Options) *Pool {
	return &Pool{rdb: rdb, opts: opts}
}

// GenerateID returns a fresh request id: the prefix plus uuid-derived hex
// truncated so the total length matches idLen, with the bridge suffix
// appended for bridge submissions.
func (p *Pool) GenerateID(bridge bool) string {
	u := uuid.New()
	raw := hex.EncodeToString(u[:])
	body := p.opts.IDLen - len(idPrefix)
	if body < 1 {
		body = 1
	}
	for len(raw) < body {
		raw += hex.EncodeToString(uuid.New().NodeID())
	}
	id := idPrefix + raw[:body]
	if bridge {
		id += p.opts.BridgeSuffix
	}
	return id
}

// Submit pushes a new request into the queue: assigns an id when the
// request has none, stamps the PROPOSED status and the priority score, and
// stores the record atomically with its pool membership. Returns the id.
func (p *Pool) Submit(ctx context.Context, tx *types.Tx, priority int64, bridge bool) (string, error) {
	if tx.ID == "" {
		tx.ID = p.GenerateID(bridge)
	}
	tx.Status = types.TxStatusProposed
	tx.Score = types.ComposeScore(priority, time.Now())
	if tx.Multiplier == 0 {
		tx.Multiplier = p.opts.GasMultiplier
	}
	if err := p.Add(ctx, tx); err != nil {
		return "", err
	}
	log.Infow("tx submitted", "tx", tx.ID, "score", tx.Score)
	return tx.ID, nil
}

// Add stores the request record and registers its id in the queue in a
// single pipeline.
func (p *Pool) Add(ctx context.Context, tx *types.Tx) error {
	data, err := tx.Encode()
	if err != nil {
		return fmt.Errorf("encode tx %s: %w", tx.ID, err)
	}
	pipe := p.rdb.TxPipeline()
	pipe.ZAdd(ctx, poolKey, redis.Z{Score: float64(tx.Score), Member: tx.ID})
	pipe.Set(ctx, tx.ID, data, p.opts.RecordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add tx %s: %w", tx.ID, err)
	}
	return nil
}

// Save rewrites the request record, refreshing its TTL. Pool membership is
// untouched: the request stays eligible for the next fetch.
func (p *Pool) Save(ctx context.Context, tx *types.Tx) error {
	data, err := tx.Encode()
	if err != nil {
		return fmt.Errorf("encode tx %s: %w", tx.ID, err)
	}
	if err := p.rdb.Set(ctx, tx.ID, data, p.opts.RecordTTL).Err(); err != nil {
		return fmt.Errorf("save tx %s: %w", tx.ID, err)
	}
	return nil
}

// Release writes the final request record and removes its id from the
// queue in a single pipeline. The record stays readable until its TTL so
// producers can poll the outcome.
func (p *Pool) Release(ctx context.Context, tx *types.Tx) error {
	data, err := tx.Encode()
	if err != nil {
		return fmt.Errorf("encode tx %s: %w", tx.ID, err)
	}
	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, tx.ID, data, p.opts.RecordTTL)
	pipe.ZRem(ctx, poolKey, tx.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release tx %s: %w", tx.ID, err)
	}
	return nil
}

// Drop removes an id from the queue without touching its record.
func (p *Pool) Drop(ctx context.Context, id string) error {
	if err := p.rdb.ZRem(ctx, poolKey, id).Err(); err != nil {
		return fmt.Errorf("drop tx %s: %w", id, err)
	}
	return nil
}

// Size returns the number of pending requests.
func (p *Pool) Size(ctx context.Context) (int64, error) {
	size, err := p.rdb.ZCard(ctx, poolKey).Result()
	if err != nil {
		return 0, fmt.Errorf("pool size: %w", err)
	}
	return size, nil
}

// List returns all pending ids ordered by ascending score.
func (p *Pool) List(ctx context.Context) ([]string, error) {
	ids, err := p.rdb.ZRange(ctx, poolKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("pool list: %w", err)
	}
	return ids, nil
}

// NextID returns the id with the lowest score, or "" when the queue is
// empty.
func (p *Pool) NextID(ctx context.Context) (string, error) {
	ids, err := p.rdb.ZRange(ctx, poolKey, 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("pool next: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// Get loads and decodes the record for id. ErrNotFound when the record is
// missing or expired.
func (p *Pool) Get(ctx context.Context, id string) (*types.Tx, error) {
	data, err := p.rdb.Get(ctx, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get tx %s: %w", id, err)
	}
	return types.DecodeTx(id, data)
}

// FetchNext returns the best pending request. Ids whose record is missing,
// expired or malformed are evicted from the queue and the scan continues,
// so one bad record never blocks the dispatcher. Only the queue membership
// is removed: the record itself stays readable until its TTL. Returns
// (nil, nil) when the queue is empty.
func (p *Pool) FetchNext(ctx context.Context) (*types.Tx, error) {
	for {
		id, err := p.NextID(ctx)
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, nil
		}
		tx, err := p.Get(ctx, id)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, types.ErrInvalidFormat) {
			return nil, err
		}
		log.Warnw("evicting unusable tx from pool", "tx", id, "error", err.Error())
		if err := p.Drop(ctx, id); err != nil {
			return nil, err
		}
	}
}
