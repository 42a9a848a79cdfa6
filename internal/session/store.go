package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tollfree-ivr/internal/calls"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrStoreUnavailable  = errors.New("session store unavailable")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrInvalidSession    = errors.New("invalid session")
)

// Mutator edits a session in place. It may be invoked more than once for a
// single Update when the backend retries on contention, so it must be pure.
type Mutator func(s *calls.Session) error

// Store keeps per-call sessions. Implementations make Update atomic with
// respect to concurrent deliveries for the same call id.
type Store interface {
	Get(ctx context.Context, callID string) (calls.Session, error)
	// GetOrCreate returns the existing session unmodified, or stores seed.
	GetOrCreate(ctx context.Context, seed calls.Session) (calls.Session, bool, error)
	Update(ctx context.Context, callID string, fn Mutator) (calls.Session, error)
	Terminate(ctx context.Context, callID string) error
	// ExpireOlderThan removes sessions whose last update is older than age
	// and returns what it removed.
	ExpireOlderThan(ctx context.Context, age time.Duration) ([]calls.Session, error)
}

func validateSeed(seed calls.Session) error {
	if seed.CallID == "" {
		return fmt.Errorf("%w: call_id is required", ErrInvalidSession)
	}
	if seed.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidSession)
	}
	if !seed.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidSession, seed.State)
	}
	return nil
}

// apply runs fn on a copy of cur and enforces the invariants every backend shares.
func apply(cur calls.Session, fn Mutator, now time.Time) (calls.Session, error) {
	next := cur
	if err := fn(&next); err != nil {
		return calls.Session{}, err
	}
	if !cur.State.CanAdvanceTo(next.State) {
		return calls.Session{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.State, next.State)
	}
	if next.InvalidInputCount < 0 {
		return calls.Session{}, fmt.Errorf("%w: negative invalid input count", ErrInvalidSession)
	}
	next.CallID = cur.CallID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = now.UTC()
	return next, nil
}

func terminate(s *calls.Session) error {
	s.State = calls.StateTerminated
	return nil
}
