package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tollfree-ivr/internal/calls"
)

const (
	defaultKeyPrefix     = "ivr:session:"
	defaultActivityKey   = "ivr:session:activity"
	defaultRetention     = time.Hour
	defaultUpdateRetries = 16
)

// RedisStore shares sessions across webhook instances.
//
// Layout:
//   - <prefix><call_id>: session JSON, TTL = 2*Retention so the reaper sees it first
//   - <activity key>: sorted set of call ids scored by UpdatedAt (unix ms)
type RedisStore struct {
	Client redis.UniversalClient

	KeyPrefix   string
	ActivityKey string
	Retention   time.Duration
	MaxRetries  int

	Now func() time.Time
}

func NewRedisStore(client redis.UniversalClient, retention time.Duration) *RedisStore {
	return &RedisStore{Client: client, Retention: retention, Now: time.Now}
}

func (r *RedisStore) key(callID string) string {
	p := r.KeyPrefix
	if p == "" {
		p = defaultKeyPrefix
	}
	return p + callID
}

func (r *RedisStore) activityKey() string {
	if r.ActivityKey == "" {
		return defaultActivityKey
	}
	return r.ActivityKey
}

func (r *RedisStore) retention() time.Duration {
	if r.Retention <= 0 {
		return defaultRetention
	}
	return r.Retention
}

func (r *RedisStore) keyTTL() time.Duration {
	return 2 * r.retention()
}

func (r *RedisStore) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

var createSessionScript = redis.NewScript(`
-- KEYS[1] = session key
-- KEYS[2] = activity index
-- ARGV[1] = session json
-- ARGV[2] = ttl_ms
-- ARGV[3] = activity score
-- ARGV[4] = call id
--
-- Returns {1, json} when created, {0, existing json} otherwise.
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
  return {1, ARGV[1]}
end
return {0, redis.call('GET', KEYS[1])}
`)

var reapSessionsScript = redis.NewScript(`
-- KEYS[1] = activity index
-- ARGV[1] = cutoff score (exclusive)
-- ARGV[2] = session key prefix
--
-- Returns the json of every removed session that still had a body.
local upper = '(' .. ARGV[1]
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', upper)
local out = {}
for _, id in ipairs(ids) do
  local body = redis.call('GET', ARGV[2] .. id)
  if body then
    out[#out + 1] = body
  end
  redis.call('DEL', ARGV[2] .. id)
end
if #ids > 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', upper)
end
return out
`)

func (r *RedisStore) Get(ctx context.Context, callID string) (calls.Session, error) {
	raw, err := r.Client.Get(ctx, r.key(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return calls.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return calls.Session{}, unavailable(err)
	}
	return decodeSession(raw)
}

func (r *RedisStore) GetOrCreate(ctx context.Context, seed calls.Session) (calls.Session, bool, error) {
	if err := validateSeed(seed); err != nil {
		return calls.Session{}, false, err
	}
	now := r.now().UTC()
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = now
	}
	seed.UpdatedAt = now

	payload, err := json.Marshal(seed)
	if err != nil {
		return calls.Session{}, false, err
	}

	res, err := createSessionScript.Run(ctx, r.Client,
		[]string{r.key(seed.CallID), r.activityKey()},
		string(payload), r.keyTTL().Milliseconds(), now.UnixMilli(), seed.CallID,
	).Slice()
	if err != nil {
		return calls.Session{}, false, unavailable(err)
	}
	if len(res) != 2 {
		return calls.Session{}, false, unavailable(fmt.Errorf("unexpected create reply: %v", res))
	}
	created, _ := res[0].(int64)
	body, _ := res[1].(string)
	s, err := decodeSession([]byte(body))
	if err != nil {
		return calls.Session{}, false, err
	}
	return s, created == 1, nil
}

// mutatorErr marks errors produced by caller code inside a WATCH callback so
// they are not mistaken for backend failures.
type mutatorErr struct{ err error }

func (e mutatorErr) Error() string { return e.err.Error() }

func (r *RedisStore) Update(ctx context.Context, callID string, fn Mutator) (calls.Session, error) {
	key := r.key(callID)
	retries := r.MaxRetries
	if retries <= 0 {
		retries = defaultUpdateRetries
	}

	var next calls.Session
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return unavailable(err)
		}
		cur, err := decodeSession(raw)
		if err != nil {
			return unavailable(err)
		}
		next, err = apply(cur, fn, r.now())
		if err != nil {
			return mutatorErr{err: err}
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return mutatorErr{err: err}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.keyTTL())
			pipe.ZAdd(ctx, r.activityKey(), redis.Z{Score: float64(next.UpdatedAt.UnixMilli()), Member: callID})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < retries; attempt++ {
		err := r.Client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		var me mutatorErr
		switch {
		case errors.As(err, &me):
			return calls.Session{}, me.err
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrSessionNotFound):
			return calls.Session{}, err
		default:
			return calls.Session{}, unavailable(err)
		}
	}
	return calls.Session{}, fmt.Errorf("%w: update contention on %s", ErrStoreUnavailable, callID)
}

func (r *RedisStore) Terminate(ctx context.Context, callID string) error {
	_, err := r.Update(ctx, callID, terminate)
	return err
}

func (r *RedisStore) ExpireOlderThan(ctx context.Context, age time.Duration) ([]calls.Session, error) {
	cutoff := r.now().Add(-age).UnixMilli()
	prefix := r.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	bodies, err := reapSessionsScript.Run(ctx, r.Client, []string{r.activityKey()}, cutoff, prefix).StringSlice()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]calls.Session, 0, len(bodies))
	for _, body := range bodies {
		s, err := decodeSession([]byte(body))
		if err != nil {
			// already deleted; nothing left to hand back
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeSession(raw []byte) (calls.Session, error) {
	var s calls.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return calls.Session{}, fmt.Errorf("%w: decode: %v", ErrInvalidSession, err)
	}
	return s, nil
}
