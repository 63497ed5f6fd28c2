package attempt

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/skalenetwork/transaction-manager/types"
)

// lastAttemptKey is the Redis slot holding the latest on-wire attempt.
// There is exactly one: the service dispatches from a single account, one
// transaction at a time.
const lastAttemptKey = "last_attempt"

// Storage persists the last attempt so fee bumping and nonce tracking
// survive restarts.
type Storage struct {
	rdb *redis.Client
}

// NewStorage returns an attempt storage over the given Redis connection.
func NewStorage(rdb *redis.Client) *Storage {
	return &Storage{rdb: rdb}
}

// Get loads the persisted attempt. Returns (nil, nil) when none has been
// stored yet.
func (s *Storage) Get(ctx context.Context) (*types.Attempt, error) {
	data, err := s.rdb.Get(ctx, lastAttemptKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last attempt: %w", err)
	}
	return types.DecodeAttempt(data)
}

// Save persists the attempt, replacing any previous one.
func (s *Storage) Save(ctx context.Context, a *types.Attempt) error {
	data, err := a.Encode()
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	if err := s.rdb.Set(ctx, lastAttemptKey, data, 0).Err(); err != nil {
		return fmt.Errorf("save last attempt: %w", err)
	}
	return nil
}
