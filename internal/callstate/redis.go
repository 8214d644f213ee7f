package callstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"callbot-platform/internal/calls"

	"github.com/redis/go-redis/v9"
)

// HashClient is the subset of the go-redis API the Redis backend needs.
// *redis.Client satisfies it.
type HashClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisStore keeps every call in one hash (key = KeyPrefix+PartitionKey,
// field = call id). HSET and HDEL are atomic per field, which gives the
// per-record upsert guarantee without extra locking.
type RedisStore struct {
	rdb         HashClient
	key         string
	clock       func() time.Time
	initialised atomic.Bool
}

// NewRedisStore builds a store. keyPrefix namespaces deployments sharing
// one Redis (e.g. "callbot:").
func NewRedisStore(rdb HashClient, keyPrefix string) *RedisStore {
	return &RedisStore{rdb: rdb, key: keyPrefix + PartitionKey, clock: time.Now}
}

func (s *RedisStore) Initialise(ctx context.Context) error {
	if s.initialised.Load() {
		return nil
	}
	if s.rdb == nil {
		return errors.New("callstate: redis client not configured")
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("callstate: redis ping: %w", err)
	}
	s.initialised.Store(true)
	return nil
}

func (s *RedisStore) Initialised() bool { return s.initialised.Load() }

func (s *RedisStore) GetStateByCallID(ctx context.Context, callID string) (*calls.CallState, error) {
	if callID == "" {
		return nil, nil
	}
	raw, err := s.rdb.HGet(ctx, s.key, callID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(raw)
}

func (s *RedisStore) AddOrUpdate(ctx context.Context, state *calls.CallState) error {
	id, err := requireCallID(state)
	if err != nil {
		return err
	}
	raw, err := encodeRecord(state, s.clock())
	if err != nil {
		return fmt.Errorf("callstate: encode %s: %w", id, err)
	}
	return s.rdb.HSet(ctx, s.key, id, raw).Err()
}

func (s *RedisStore) RemoveCurrentCall(ctx context.Context, callID string) (bool, error) {
	if callID == "" {
		return false, nil
	}
	n, err := s.rdb.HDel(ctx, s.key, callID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) GetActiveCalls(ctx context.Context) ([]*calls.CallState, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*calls.CallState, 0, len(ids))
	for _, id := range ids {
		st, err := decodeRecord([]byte(all[id]))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
