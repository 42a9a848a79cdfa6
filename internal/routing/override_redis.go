package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOverrideStore shares overrides across instances. Each tenant has a
// sorted set of override JSON scored by expiry (unix ms).
type RedisOverrideStore struct {
	Client    redis.Cmdable
	KeyPrefix string
}

func NewRedisOverrideStore(client redis.Cmdable) *RedisOverrideStore {
	return &RedisOverrideStore{Client: client, KeyPrefix: "ivr:overrides:"}
}

func (s *RedisOverrideStore) key(tenantID string) string {
	prefix := s.KeyPrefix
	if prefix == "" {
		prefix = "ivr:overrides:"
	}
	return prefix + tenantID
}

func (s *RedisOverrideStore) PutOverride(ctx context.Context, o RouteOverride) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	key := s.key(o.TenantID)
	if err := s.Client.ZAdd(ctx, key, redis.Z{Score: float64(o.ExpiresAt.UnixMilli()), Member: raw}).Err(); err != nil {
		return fmt.Errorf("store override: %w", err)
	}
	// the set lives as long as its longest override
	last, err := s.Client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(last) == 0 {
		return err
	}
	return s.Client.PExpireAt(ctx, key, time.UnixMilli(int64(last[0].Score))).Err()
}

func (s *RedisOverrideStore) ActiveOverrides(ctx context.Context, tenantID string, now time.Time) ([]RouteOverride, error) {
	key := s.key(tenantID)
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)

	var rng *redis.StringSliceCmd
	_, err := s.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		rng = p.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "(" + cutoff, Max: "+inf"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	out := make([]RouteOverride, 0, len(rng.Val()))
	for _, raw := range rng.Val() {
		var o RouteOverride
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("decode override: %w", err)
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
