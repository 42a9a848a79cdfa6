package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"tollfree-ivr/internal/audit"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the journal read side. Implementations must filter by tenant.
// audit.MemoryRepo and audit.PostgresRepo both satisfy it.
type Repository interface {
	ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]audit.Event, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Summary folds the call journal into per-outcome counts.
func (s *Service) Summary(ctx context.Context, req SummaryRequest) (CallSummary, error) {
	if req.TenantID == "" {
		return CallSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallSummary{}, errors.New("reporting: repository not configured")
	}

	events, err := s.repo.ListByTenant(ctx, req.TenantID, req.Range.From, req.Range.To)
	if err != nil {
		return CallSummary{}, err
	}

	out := CallSummary{TenantID: req.TenantID, Range: req.Range}
	byRoute := map[string]int{}
	failed := map[string]bool{}
	for _, e := range events {
		if e.TenantID != req.TenantID {
			continue
		}
		switch e.Type {
		case audit.EventTypeCallStarted:
			out.CallsStarted++
		case audit.EventTypeRouteSelected:
			out.Routed++
			byRoute[e.Route]++
		case audit.EventTypeCallConnected:
			out.Connected++
		case audit.EventTypeCallEnded:
			out.Completed++
		case audit.EventTypeInvalidInput:
			out.InvalidInputs++
		case audit.EventTypeNoInput:
			out.NoInput++
		case audit.EventTypeRetriesExhausted:
			out.RetriesExhausted++
		case audit.EventTypeAfterHours:
			out.AfterHours++
		case audit.EventTypeCapacityRejected:
			out.CapacityRejected++
		case audit.EventTypePolicyUnavailable, audit.EventTypeStoreUnavailable:
			// a call can fail more than once while the carrier retries
			if !failed[e.CallID] {
				failed[e.CallID] = true
				out.Failures++
			}
		case audit.EventTypeOverride:
			out.OverridesUsed++
		}
	}

	out.Routes = make([]RouteCount, 0, len(byRoute))
	for route, n := range byRoute {
		out.Routes = append(out.Routes, RouteCount{Route: route, Calls: n})
	}
	sort.Slice(out.Routes, func(i, j int) bool {
		if out.Routes[i].Calls != out.Routes[j].Calls {
			return out.Routes[i].Calls > out.Routes[j].Calls
		}
		return out.Routes[i].Route < out.Routes[j].Route
	})
	if out.CallsStarted > 0 {
		out.RoutedRate = float64(out.Routed) / float64(out.CallsStarted)
	}
	return out, nil
}
