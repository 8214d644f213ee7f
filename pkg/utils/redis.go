package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Lease scripts. A lease key holds the token of its current owner, so only
// that owner can extend or release it.
var leaseAcquireScript = redis.NewScript(`
-- KEYS[1] = lease key, ARGV[1] = owner token, ARGV[2] = ttl_ms
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
return 0
`)

var leaseRefreshScript = redis.NewScript(`
-- KEYS[1] = lease key, ARGV[1] = owner token, ARGV[2] = ttl_ms
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var leaseReleaseScript = redis.NewScript(`
-- KEYS[1] = lease key, ARGV[1] = owner token
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

const defaultLeaseTTL = 30 * time.Second

// RedisLease is a single-holder lease per key. Holders identify themselves
// with a token chosen at acquire time; a lease that expired and was taken
// over cannot be refreshed or released by its previous holder.
type RedisLease struct {
	Client redis.Scripter
	TTL    time.Duration
}

func (l RedisLease) ttl() time.Duration {
	if l.TTL <= 0 {
		return defaultLeaseTTL
	}
	return l.TTL
}

func (l RedisLease) check(key, token string) error {
	if l.Client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// TryAcquire takes the lease for token if nobody holds it.
func (l RedisLease) TryAcquire(ctx context.Context, key, token string) (bool, error) {
	if err := l.check(key, token); err != nil {
		return false, err
	}
	res, err := leaseAcquireScript.Run(ctx, l.Client, []string{key}, token, l.ttl().Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Refresh extends the lease by a full TTL. It reports false when token no
// longer owns the lease.
func (l RedisLease) Refresh(ctx context.Context, key, token string) (bool, error) {
	if err := l.check(key, token); err != nil {
		return false, err
	}
	res, err := leaseRefreshScript.Run(ctx, l.Client, []string{key}, token, l.ttl().Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release deletes the lease if token still owns it. It reports false when
// the lease had already expired or passed to another holder.
func (l RedisLease) Release(ctx context.Context, key, token string) (bool, error) {
	if err := l.check(key, token); err != nil {
		return false, err
	}
	res, err := leaseReleaseScript.Run(ctx, l.Client, []string{key}, token).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
