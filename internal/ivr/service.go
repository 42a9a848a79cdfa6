package ivr

import (
	"context"
	"errors"
	"time"

	"tollfree-ivr/internal/audit"
	"tollfree-ivr/internal/calls"
	"tollfree-ivr/internal/routing"
	"tollfree-ivr/internal/session"
	"tollfree-ivr/internal/telephony"
	"tollfree-ivr/pkg/logger"
)

const (
	DefaultTimeout     = 3 * time.Second
	DefaultCapacityTTL = 4 * time.Hour
)

// Journal receives call outcome events. *audit.Service implements it.
type Journal interface {
	Append(ctx context.Context, e audit.Event) error
}

// Service turns normalized carrier events into call-control responses.
// It never fails: every error path degrades to an apology and a hangup.
type Service struct {
	Sessions  session.Store
	Policies  routing.Resolver
	Directory routing.TenantDirectory
	Overrides *routing.OverrideEngine
	Capacity  CapacityLimiter
	Journal   Journal
	Machine   Machine

	Timeout     time.Duration
	CapacityTTL time.Duration
	Now         func() time.Time
}

func NewService(sessions session.Store, policies routing.Resolver) *Service {
	return &Service{
		Sessions:    sessions,
		Policies:    policies,
		Timeout:     DefaultTimeout,
		CapacityTTL: DefaultCapacityTTL,
		Now:         time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) HandleEvent(ctx context.Context, ev calls.Event) telephony.Response {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx = logger.WithCall(ctx, ev.CallID, ev.TenantID)
	log := logger.From(ctx)

	if ev.CallID == "" {
		log.Warn("event without call id", "event", ev.Kind.String())
		return FallbackResponse(routing.Policy{})
	}

	sess, created, err := s.load(ctx, ev)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// hangup for a call we never saw
			return HangupResponse()
		}
		log.Error("load session", "err", err)
		if errors.Is(err, session.ErrStoreUnavailable) {
			s.record(ctx, audit.Event{TenantID: ev.TenantID, Type: audit.EventTypeStoreUnavailable, CallID: ev.CallID, Message: err.Error()})
		}
		return FallbackResponse(routing.Policy{})
	}
	if ev.TenantID == "" {
		ctx = logger.WithCall(ctx, "", sess.TenantID)
		log = logger.From(ctx)
	}
	if created {
		s.record(ctx, audit.Event{TenantID: sess.TenantID, Type: audit.EventTypeCallStarted, CallID: sess.CallID, State: string(sess.State)})
	}

	policy, err := s.Policies.Resolve(ctx, sess.TenantID, sess.ToNumber)
	if err != nil {
		log.Error("resolve policy", "to", sess.ToNumber, "err", err)
		s.record(ctx, audit.Event{TenantID: sess.TenantID, Type: audit.EventTypePolicyUnavailable, CallID: sess.CallID, Message: err.Error()})
		s.end(ctx, sess)
		return FallbackResponse(routing.Policy{})
	}

	policy, applied, err := s.Overrides.Apply(ctx, policy)
	if err != nil {
		log.Warn("route overrides skipped", "err", err)
	}

	var slot string
	if created && ev.Kind == calls.EventInitiated && policy.MaxConcurrentCalls > 0 && s.Capacity != nil {
		key := CapacityKey(policy.Number)
		ok, err := s.Capacity.Acquire(ctx, key, sess.CallID, policy.MaxConcurrentCalls, s.capacityTTL())
		switch {
		case err != nil:
			// the cap protects agents, not the platform; admit the call
			log.Warn("capacity check failed", "key", key, "err", err)
		case !ok:
			log.Info("number at capacity", "key", key, "limit", policy.MaxConcurrentCalls)
			s.record(ctx, audit.Event{TenantID: sess.TenantID, Type: audit.EventTypeCapacityRejected, CallID: sess.CallID})
			s.end(ctx, sess)
			return BusyResponse(policy)
		default:
			slot = key
		}
	}

	now := s.now()
	var (
		step     Step
		released string
	)
	mutate := func(cur *calls.Session) error {
		step = s.Machine.Step(*cur, policy, ev, now)
		if slot != "" {
			step.Session.CapacityKey = slot
		}
		released = ""
		if step.Session.State.IsTerminal() && step.Session.CapacityKey != "" {
			released = step.Session.CapacityKey
			step.Session.CapacityKey = ""
		}
		*cur = step.Session
		return nil
	}
	next, err := s.Sessions.Update(ctx, sess.CallID, mutate)
	if errors.Is(err, session.ErrSessionNotFound) {
		// evicted between load and update: recreate from the event and step once more
		log.Warn("session vanished before update", "event", ev.Kind.String())
		var (
			again     calls.Session
			recreated bool
		)
		if again, recreated, err = s.load(ctx, ev); err == nil {
			if recreated && !created {
				s.record(ctx, audit.Event{TenantID: again.TenantID, Type: audit.EventTypeCallStarted, CallID: again.CallID, State: string(again.State)})
			}
			next, err = s.Sessions.Update(ctx, again.CallID, mutate)
		}
	}
	if err != nil {
		s.release(ctx, slot, sess.CallID)
		if errors.Is(err, session.ErrSessionNotFound) && ev.Kind == calls.EventHangup {
			return HangupResponse()
		}
		log.Error("update session", "event", ev.Kind.String(), "err", err)
		s.record(ctx, audit.Event{TenantID: sess.TenantID, Type: audit.EventTypeStoreUnavailable, CallID: sess.CallID, Message: err.Error()})
		return FallbackResponse(policy)
	}
	s.release(ctx, released, next.CallID)

	log.Debug("call step",
		"event", ev.Kind.String(),
		"outcome", string(step.Outcome),
		"state", string(next.State),
	)
	s.journalStep(ctx, next, ev, step.Outcome, applied)
	return step.Response
}

// load returns the call's session, creating it from the event on first sight.
func (s *Service) load(ctx context.Context, ev calls.Event) (calls.Session, bool, error) {
	sess, err := s.Sessions.Get(ctx, ev.CallID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) || ev.Kind == calls.EventHangup {
		return calls.Session{}, false, err
	}

	tenantID := ev.TenantID
	if tenantID == "" && s.Directory != nil {
		tenantID, err = s.Directory.TenantForNumber(ctx, ev.To)
		if err != nil {
			return calls.Session{}, false, err
		}
	}
	seed := calls.NewSession(ev.CallID, tenantID, ev.From, ev.To, s.now())
	return s.Sessions.GetOrCreate(ctx, seed)
}

func (s *Service) journalStep(ctx context.Context, sess calls.Session, ev calls.Event, outcome Outcome, applied routing.Applied) {
	e := audit.Event{
		TenantID: sess.TenantID,
		CallID:   sess.CallID,
		State:    string(sess.State),
		Route:    sess.SelectedRoute,
		Digits:   ev.Digits,
	}
	switch outcome {
	case OutcomeRouteSelected:
		e.Type = audit.EventTypeRouteSelected
		if o, ok := applied[sess.SelectedRoute]; ok {
			if err := s.Overrides.RecordUse(ctx, sess.CallID, o); err != nil {
				logger.From(ctx).Warn("journal override use", "override_id", o.ID, "err", err)
			}
		}
	case OutcomeInvalidInput:
		e.Type = audit.EventTypeInvalidInput
	case OutcomeRetriesExhausted:
		e.Type = audit.EventTypeRetriesExhausted
	case OutcomeNoInput:
		e.Type = audit.EventTypeNoInput
	case OutcomeAfterHours:
		e.Type = audit.EventTypeAfterHours
	case OutcomeConnected:
		e.Type = audit.EventTypeCallConnected
	case OutcomeHungUp:
		e.Type = audit.EventTypeCallEnded
	case OutcomeMisconfigured:
		e.Type = audit.EventTypePolicyUnavailable
		e.Message = "no transfer target for route " + sess.SelectedRoute
	default:
		return
	}
	s.record(ctx, e)
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if s.Journal == nil || e.TenantID == "" {
		return
	}
	if err := s.Journal.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("journal append failed", "type", string(e.Type), "err", err)
	}
}

// end terminates a session the machine never stepped, returning any slot it held.
func (s *Service) end(ctx context.Context, sess calls.Session) {
	if sess.CapacityKey == "" {
		if err := s.Sessions.Terminate(ctx, sess.CallID); err != nil {
			logger.From(ctx).Warn("terminate session", "err", err)
		}
		return
	}
	var held string
	_, err := s.Sessions.Update(ctx, sess.CallID, func(cur *calls.Session) error {
		held = cur.CapacityKey
		cur.CapacityKey = ""
		cur.State = calls.StateTerminated
		return nil
	})
	if err != nil {
		logger.From(ctx).Warn("terminate session", "err", err)
		return
	}
	s.release(ctx, held, sess.CallID)
}

// ReleaseExpired returns the slot of a session the reaper evicted before its
// hangup arrived. It fits session.Reaper.OnExpire.
func (s *Service) ReleaseExpired(ctx context.Context, sess calls.Session) {
	if sess.CapacityKey == "" {
		return
	}
	ctx = logger.WithCall(ctx, sess.CallID, sess.TenantID)
	logger.From(ctx).Info("releasing slot of expired call", "key", sess.CapacityKey)
	s.release(ctx, sess.CapacityKey, sess.CallID)
}

func (s *Service) release(ctx context.Context, key, callID string) {
	if key == "" || s.Capacity == nil {
		return
	}
	if err := s.Capacity.Release(ctx, key, callID); err != nil {
		logger.From(ctx).Warn("release capacity slot", "key", key, "err", err)
	}
}

func (s *Service) capacityTTL() time.Duration {
	if s.CapacityTTL <= 0 {
		return DefaultCapacityTTL
	}
	return s.CapacityTTL
}

var _ telephony.CallHandler = (*Service)(nil)
