package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for journal events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader is implemented by repositories that can serve the admin API and reports.
type Reader interface {
	ListByCall(ctx context.Context, tenantID, callID string) ([]Event, error)
	ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]Event, error)
}

// Service is the call journal. Callers treat Append as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrNotListable  = errors.New("audit: repository does not support listing")
	errNoRepository = errors.New("audit: repository not configured")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errNoRepository
	}
	if e.TenantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records a change made through the admin API.
func (s *Service) LogAdminAction(ctx context.Context, tenantID, actorUserID, actorRole, message, metadata string) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogOverride records that a route override replaced a transfer target for a call.
func (s *Service) LogOverride(ctx context.Context, tenantID, callID, route, overrideID, metadata string) error {
	return s.Append(ctx, Event{
		TenantID:   tenantID,
		Type:       EventTypeOverride,
		CallID:     callID,
		Route:      route,
		OverrideID: overrideID,
		Message:    "route override applied",
		Metadata:   metadata,
	})
}

func (s *Service) reader() (Reader, error) {
	if s == nil || s.repo == nil {
		return nil, errNoRepository
	}
	r, ok := s.repo.(Reader)
	if !ok {
		return nil, ErrNotListable
	}
	return r, nil
}

// CallEvents returns the journal of one call in insertion order.
func (s *Service) CallEvents(ctx context.Context, tenantID, callID string) ([]Event, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	return r.ListByCall(ctx, tenantID, callID)
}

// TenantEvents returns events in [from, to). A zero to means now.
func (s *Service) TenantEvents(ctx context.Context, tenantID string, from, to time.Time) ([]Event, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.clock().UTC()
	}
	return r.ListByTenant(ctx, tenantID, from, to)
}
