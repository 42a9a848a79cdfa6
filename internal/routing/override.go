package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidOverride = errors.New("invalid route override")

// RouteOverride temporarily replaces a route's transfer target, e.g. sending
// support to a backup line during an outage.
//
// Overrides are silent: callers hear the normal route message and nothing in
// the call flow reveals that an override was used. Use is journaled internally.
type RouteOverride struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	// Number limits the override to one toll-free number; empty applies to all of the tenant's numbers.
	Number    string    `json:"number,omitempty"`
	Route     string    `json:"route"`
	ConnectTo string    `json:"connect_to"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OverrideStore persists overrides. ActiveOverrides must not return expired entries.
type OverrideStore interface {
	ActiveOverrides(ctx context.Context, tenantID string, now time.Time) ([]RouteOverride, error)
	PutOverride(ctx context.Context, o RouteOverride) error
}

// OverrideAuditor records internal-only override usage.
type OverrideAuditor interface {
	LogOverride(ctx context.Context, tenantID, callID, route, overrideID, metadata string) error
}

// OverrideEngine applies active overrides on top of a resolved policy.
type OverrideEngine struct {
	Store OverrideStore
	Audit OverrideAuditor
	Now   func() time.Time
}

func NewOverrideEngine(store OverrideStore, audit OverrideAuditor) *OverrideEngine {
	return &OverrideEngine{Store: store, Audit: audit, Now: time.Now}
}

func (e *OverrideEngine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Applied maps a route to the override that replaced its target.
type Applied map[string]RouteOverride

// Apply returns p with overridden transfer targets. p itself is never mutated.
func (e *OverrideEngine) Apply(ctx context.Context, p Policy) (Policy, Applied, error) {
	if e == nil || e.Store == nil {
		return p, nil, nil
	}
	now := e.now()
	active, err := e.Store.ActiveOverrides(ctx, p.TenantID, now)
	if err != nil {
		return p, nil, fmt.Errorf("load overrides: %w", err)
	}
	number := NormalizeNumber(p.Number)

	var applied Applied
	for _, o := range active {
		if !o.ExpiresAt.After(now) || strings.TrimSpace(o.ConnectTo) == "" {
			continue
		}
		if o.Number != "" && NormalizeNumber(o.Number) != number {
			continue
		}
		if _, known := p.TransferTargets[o.Route]; !known {
			continue
		}
		if applied == nil {
			applied = Applied{}
			p.TransferTargets = p.cloneTargets()
		}
		p.TransferTargets[o.Route] = o.ConnectTo
		applied[o.Route] = o
	}
	return p, applied, nil
}

// RecordUse journals that callID was transferred through o.
func (e *OverrideEngine) RecordUse(ctx context.Context, callID string, o RouteOverride) error {
	if e == nil || e.Audit == nil {
		return nil
	}
	meta := fmt.Sprintf(`{"connect_to":%q,"expires_at":%q}`, o.ConnectTo, o.ExpiresAt.UTC().Format(time.RFC3339))
	return e.Audit.LogOverride(ctx, o.TenantID, callID, o.Route, o.ID, meta)
}

// Create validates and stores a new override.
func (e *OverrideEngine) Create(ctx context.Context, o RouteOverride) (RouteOverride, error) {
	if e == nil || e.Store == nil {
		return RouteOverride{}, errors.New("routing: override store not configured")
	}
	now := e.now().UTC()
	switch {
	case o.TenantID == "":
		return RouteOverride{}, fmt.Errorf("%w: tenant_id required", ErrInvalidOverride)
	case strings.TrimSpace(o.Route) == "":
		return RouteOverride{}, fmt.Errorf("%w: route required", ErrInvalidOverride)
	case strings.TrimSpace(o.ConnectTo) == "":
		return RouteOverride{}, fmt.Errorf("%w: connect_to required", ErrInvalidOverride)
	case !o.ExpiresAt.After(now):
		return RouteOverride{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidOverride)
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = now
	if err := e.Store.PutOverride(ctx, o); err != nil {
		return RouteOverride{}, err
	}
	return o, nil
}

// MemoryOverrideStore keeps overrides in process memory.
type MemoryOverrideStore struct {
	mu        sync.Mutex
	overrides []RouteOverride
}

func NewMemoryOverrideStore() *MemoryOverrideStore { return &MemoryOverrideStore{} }

func (m *MemoryOverrideStore) PutOverride(_ context.Context, o RouteOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = append(m.overrides, o)
	return nil
}

// ActiveOverrides returns unexpired overrides in creation order and drops expired ones.
func (m *MemoryOverrideStore) ActiveOverrides(_ context.Context, tenantID string, now time.Time) ([]RouteOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.overrides[:0]
	var out []RouteOverride
	for _, o := range m.overrides {
		if !o.ExpiresAt.After(now) {
			continue
		}
		kept = append(kept, o)
		if o.TenantID == tenantID {
			out = append(out, o)
		}
	}
	m.overrides = kept
	// Apply walks oldest to newest, so the newest override for a route wins.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
