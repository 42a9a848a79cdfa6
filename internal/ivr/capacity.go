package ivr

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tollfree-ivr/internal/routing"
	"tollfree-ivr/pkg/utils"
)

// CapacityLimiter bounds concurrent calls per toll-free number. Slots are
// held per call id; a slot not released within ttl stops counting.
type CapacityLimiter interface {
	Acquire(ctx context.Context, key, callID string, limit int, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, callID string) error
}

// CapacityKey is the slot set key for a dialed number.
func CapacityKey(number string) string {
	return "ivr:cap:" + routing.NormalizeNumber(number)
}

// RedisCapacity shares slots across every instance through Redis.
type RedisCapacity struct {
	Client redis.Scripter
	Now    func() time.Time
}

func (c RedisCapacity) Acquire(ctx context.Context, key, callID string, limit int, ttl time.Duration) (bool, error) {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	return utils.AcquireConcurrencyCap(ctx, c.Client, key, callID, limit, ttl, now)
}

func (c RedisCapacity) Release(ctx context.Context, key, callID string) error {
	return utils.ReleaseConcurrencyCap(ctx, c.Client, key, callID)
}

// MemoryCapacity is the single-instance limiter. The zero value is ready to use.
type MemoryCapacity struct {
	Now func() time.Time

	mu      sync.Mutex
	holders map[string]map[string]time.Time
}

func NewMemoryCapacity() *MemoryCapacity {
	return &MemoryCapacity{Now: time.Now}
}

func (c *MemoryCapacity) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *MemoryCapacity) Acquire(_ context.Context, key, callID string, limit int, ttl time.Duration) (bool, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holders == nil {
		c.holders = map[string]map[string]time.Time{}
	}
	set := c.holders[key]
	if set == nil {
		set = map[string]time.Time{}
		c.holders[key] = set
	}
	for id, at := range set {
		if ttl > 0 && !at.After(now.Add(-ttl)) {
			delete(set, id)
		}
	}
	if _, ok := set[callID]; ok {
		return true, nil
	}
	if len(set) >= limit {
		return false, nil
	}
	set[callID] = now
	return true, nil
}

func (c *MemoryCapacity) Release(_ context.Context, key, callID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.holders[key]
	delete(set, callID)
	if len(set) == 0 {
		delete(c.holders, key)
	}
	return nil
}

// InUse reports held slots for key, including ones not yet aged out.
func (c *MemoryCapacity) InUse(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.holders[key])
}
