package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const capKey = "ivr:cap:+18005550100"

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestConcurrencyCap_AcquireRelease(t *testing.T) {
	_, rdb := testRedis(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for _, holder := range []string{"call-a", "call-b"} {
		ok, err := AcquireConcurrencyCap(ctx, rdb, capKey, holder, 2, time.Minute, now)
		if err != nil || !ok {
			t.Fatalf("acquire %s: ok=%v err=%v", holder, ok, err)
		}
	}
	ok, err := AcquireConcurrencyCap(ctx, rdb, capKey, "call-c", 2, time.Minute, now)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected third holder to be rejected")
	}
	if ok, err := AcquireConcurrencyCap(ctx, rdb, capKey, "call-a", 2, time.Minute, now); err != nil || !ok {
		t.Fatalf("re-acquire by a holder must succeed: ok=%v err=%v", ok, err)
	}

	if err := ReleaseConcurrencyCap(ctx, rdb, capKey, "call-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = AcquireConcurrencyCap(ctx, rdb, capKey, "call-c", 2, time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("expected slot after release: ok=%v err=%v", ok, err)
	}
}

func TestConcurrencyCap_StaleHoldersAgeOut(t *testing.T) {
	_, rdb := testRedis(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	if ok, err := AcquireConcurrencyCap(ctx, rdb, capKey, "dropped", 1, time.Hour, now); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	// steady traffic keeps the key alive, but the dropped call still counts until it ages out
	if ok, _ := AcquireConcurrencyCap(ctx, rdb, capKey, "next", 1, time.Hour, now.Add(30*time.Minute)); ok {
		t.Fatalf("expected rejection while the first holder is live")
	}
	if ok, err := AcquireConcurrencyCap(ctx, rdb, capKey, "next", 1, time.Hour, now.Add(61*time.Minute)); err != nil || !ok {
		t.Fatalf("expected stale holder trimmed: ok=%v err=%v", ok, err)
	}
}

func TestConcurrencyCap_ReleaseUnknownHolderIsNoop(t *testing.T) {
	mr, rdb := testRedis(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	if err := ReleaseConcurrencyCap(ctx, rdb, "ivr:cap:missing", "c1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("ivr:cap:missing") {
		t.Fatalf("release must not create the set")
	}

	if ok, err := AcquireConcurrencyCap(ctx, rdb, "ivr:cap:one", "c1", 1, time.Minute, now); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("ivr:cap:one"); ttl <= 0 {
		t.Fatalf("expected ttl on slot set, got %s", ttl)
	}
	if err := ReleaseConcurrencyCap(ctx, rdb, "ivr:cap:one", "c1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("ivr:cap:one") {
		t.Fatalf("expected slot set deleted when empty")
	}
}

func TestConcurrencyCap_RejectsBadInput(t *testing.T) {
	_, rdb := testRedis(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := AcquireConcurrencyCap(ctx, rdb, "", "c1", 1, time.Minute, now); !errors.Is(err, ErrInvalidCap) {
		t.Fatalf("expected ErrInvalidCap for empty key, got %v", err)
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", "", 1, time.Minute, now); !errors.Is(err, ErrInvalidCap) {
		t.Fatalf("expected ErrInvalidCap for empty holder, got %v", err)
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", "c1", 0, time.Minute, now); !errors.Is(err, ErrInvalidCap) {
		t.Fatalf("expected ErrInvalidCap for zero limit, got %v", err)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); !errors.Is(err, ErrRedisUnconfigured) {
		t.Fatalf("expected ErrRedisUnconfigured, got %v", err)
	}
}
