package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRedisUnconfigured = errors.New("redis client is not configured")
	ErrInvalidCap        = errors.New("invalid concurrency cap")
)

// RedisConfig describes one Redis endpoint. Zero values get conservative defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout time.Duration
	IOTimeout   time.Duration
	PoolSize    int
	PingTimeout time.Duration
}

func (c RedisConfig) options() *redis.Options {
	opt := &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     orDuration(c.DialTimeout, 3*time.Second),
		ReadTimeout:     orDuration(c.IOTimeout, 2*time.Second),
		WriteTimeout:    orDuration(c.IOTimeout, 2*time.Second),
		PoolSize:        c.PoolSize,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,
	}
	if opt.PoolSize <= 0 {
		// webhook bursts are short; a few dozen conns covers a busy number
		opt.PoolSize = 32
	}
	return opt
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// OpenRedis dials Redis and fails unless a PING answers within PingTimeout.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: addr is empty", ErrRedisUnconfigured)
	}
	rdb := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, orDuration(cfg.PingTimeout, 2*time.Second))
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Slots are a sorted set of holder ids scored by acquire time (unix ms).
// Holders older than ttl are trimmed before counting, so a call that never
// released its slot stops counting against the cap once ttl has passed.
var capAcquire = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[4])
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 1
end
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

var capRelease = redis.NewScript(`
local n = redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then redis.call('DEL', KEYS[1]) end
return n
`)

// AcquireConcurrencyCap takes a slot under key for holder unless limit live
// slots are already held. Acquiring again for the same holder is a no-op success.
func AcquireConcurrencyCap(ctx context.Context, rdb redis.Scripter, key, holder string, limit int, ttl time.Duration, now time.Time) (bool, error) {
	switch {
	case rdb == nil:
		return false, ErrRedisUnconfigured
	case key == "" || holder == "":
		return false, fmt.Errorf("%w: empty key or holder", ErrInvalidCap)
	case limit <= 0:
		return false, fmt.Errorf("%w: limit %d", ErrInvalidCap, limit)
	case ttl <= 0:
		return false, fmt.Errorf("%w: ttl %s", ErrInvalidCap, ttl)
	}
	ms := now.UnixMilli()
	got, err := capAcquire.Run(ctx, rdb, []string{key}, holder, limit, ms, ms-ttl.Milliseconds(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return got == 1, nil
}

// ReleaseConcurrencyCap gives back holder's slot. Unknown or aged-out holders are a no-op.
func ReleaseConcurrencyCap(ctx context.Context, rdb redis.Scripter, key, holder string) error {
	if rdb == nil {
		return ErrRedisUnconfigured
	}
	if key == "" || holder == "" {
		return fmt.Errorf("%w: empty key or holder", ErrInvalidCap)
	}
	if err := capRelease.Run(ctx, rdb, []string{key}, holder).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
