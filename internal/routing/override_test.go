package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memAuditor struct {
	calls []string
}

func (m *memAuditor) LogOverride(_ context.Context, tenantID, callID, route, overrideID, _ string) error {
	m.calls = append(m.calls, tenantID+"/"+callID+"/"+route+"/"+overrideID)
	return nil
}

func TestOverrideEngine_AppliesActiveOverrideSilently(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := NewMemoryOverrideStore()
	a := &memAuditor{}
	e := NewOverrideEngine(store, a)
	e.Now = func() time.Time { return now }
	ctx := context.Background()

	o, err := e.Create(ctx, RouteOverride{TenantID: DefaultTenantID, Route: "support", ConnectTo: "+18005550199", ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.ID == "" {
		t.Fatalf("expected generated id")
	}

	base := tetrix()
	p, applied, err := e.Apply(ctx, base)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if target, _ := p.TransferTarget("support"); target != "+18005550199" {
		t.Fatalf("expected override target, got %q", target)
	}
	if base.TransferTargets["support"] != "+1-800-596-3057" {
		t.Fatalf("input policy must not be mutated")
	}
	if p.RouteMessage("support") != base.RouteMessage("support") {
		t.Fatalf("override must not change what the caller hears")
	}
	if _, ok := applied["support"]; !ok || len(applied) != 1 {
		t.Fatalf("unexpected applied set: %v", applied)
	}

	if err := e.RecordUse(ctx, "call-1", applied["support"]); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(a.calls) != 1 || a.calls[0] != DefaultTenantID+"/call-1/support/"+o.ID {
		t.Fatalf("unexpected audit calls: %v", a.calls)
	}
}

func TestOverrideEngine_IgnoresExpiredAndOtherNumbers(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := NewMemoryOverrideStore()
	ctx := context.Background()
	_ = store.PutOverride(ctx, RouteOverride{ID: "old", TenantID: DefaultTenantID, Route: "sales", ConnectTo: "+1", ExpiresAt: now.Add(-time.Second)})
	_ = store.PutOverride(ctx, RouteOverride{ID: "elsewhere", TenantID: DefaultTenantID, Number: "+18888046762", Route: "sales", ConnectTo: "+2", ExpiresAt: now.Add(time.Hour)})
	_ = store.PutOverride(ctx, RouteOverride{ID: "unknown-route", TenantID: DefaultTenantID, Route: "marketing", ConnectTo: "+3", ExpiresAt: now.Add(time.Hour)})

	e := NewOverrideEngine(store, nil)
	e.Now = func() time.Time { return now }

	p, applied, err := e.Apply(ctx, tetrix()) // +1-800-596-3057
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied, got %v", applied)
	}
	if p.TransferTargets["sales"] != "+1-888-804-6762" {
		t.Fatalf("unexpected sales target %q", p.TransferTargets["sales"])
	}
}

func TestOverrideEngine_CreateValidates(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	e := NewOverrideEngine(NewMemoryOverrideStore(), nil)
	e.Now = func() time.Time { return now }

	_, err := e.Create(context.Background(), RouteOverride{TenantID: "t", Route: "sales", ConnectTo: "+1", ExpiresAt: now})
	if !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride, got %v", err)
	}
}

func TestRedisOverrideStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisOverrideStore(client)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	put := func(id string, created time.Time, expires time.Time) {
		t.Helper()
		err := store.PutOverride(ctx, RouteOverride{
			ID: id, TenantID: "t1", Route: "support", ConnectTo: "+15550000" + id,
			CreatedAt: created, ExpiresAt: expires,
		})
		if err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	put("2", now.Add(-time.Minute), now.Add(2*time.Hour))
	put("1", now.Add(-time.Hour), now.Add(time.Hour))
	put("3", now.Add(-2*time.Hour), now.Add(time.Minute))

	got, err := store.ActiveOverrides(ctx, "t1", now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("expected overrides 1,2 in creation order, got %+v", got)
	}
	if n, _ := client.ZCard(ctx, "ivr:overrides:t1").Result(); n != 2 {
		t.Fatalf("expired override should be pruned, %d left", n)
	}
	if other, _ := store.ActiveOverrides(ctx, "t2", now); len(other) != 0 {
		t.Fatalf("tenant isolation broken: %+v", other)
	}
}
