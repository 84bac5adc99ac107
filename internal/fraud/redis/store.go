// Package redis backs the fraud blocklist with redis keys so blocks
// survive restarts and are shared across instances.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	blockKeyPrefix     = "fraud:blocked:"
	suspicionKeyPrefix = "fraud:suspicion:"

	// Suspicion strikes age out on their own; a quiet day resets the
	// counter.
	suspicionTTL = 24 * time.Hour
)

type Store struct {
	client *goredis.Client
}

func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

func blockKey(userID int64) string {
	return fmt.Sprintf("%s%d", blockKeyPrefix, userID)
}

func suspicionKey(userID int64) string {
	return fmt.Sprintf("%s%d", suspicionKeyPrefix, userID)
}

func (s *Store) IsBlocked(ctx context.Context, userID int64) (bool, error) {
	exists, err := s.client.Exists(ctx, blockKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *Store) Block(ctx context.Context, userID int64, ttl time.Duration) error {
	return s.client.Set(ctx, blockKey(userID), "1", ttl).Err()
}

func (s *Store) Unblock(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, blockKey(userID), suspicionKey(userID)).Err()
}

// RecordSuspicion bumps the user's strike counter and refreshes its
// expiry in one round trip.
func (s *Store) RecordSuspicion(ctx context.Context, userID int64) (int64, error) {
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, suspicionKey(userID))
		pipe.Expire(ctx, suspicionKey(userID), suspicionTTL)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
