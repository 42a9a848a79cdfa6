package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo keeps the journal in process. Events are returned in append order.
type MemoryRepo struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepo) ListByCall(_ context.Context, tenantID, callID string) ([]Event, error) {
	return r.filter(func(e Event) bool {
		return e.TenantID == tenantID && e.CallID == callID
	}), nil
}

// ListByTenant returns events in [from, to). A zero bound is open.
func (r *MemoryRepo) ListByTenant(_ context.Context, tenantID string, from, to time.Time) ([]Event, error) {
	return r.filter(func(e Event) bool {
		switch {
		case e.TenantID != tenantID:
			return false
		case !from.IsZero() && e.CreatedAt.Before(from):
			return false
		case !to.IsZero() && !e.CreatedAt.Before(to):
			return false
		}
		return true
	}), nil
}

// Events snapshots the whole journal.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
