package session

import (
	"context"
	"log/slog"
	"time"

	"tollfree-ivr/internal/calls"
)

// Reaper periodically evicts sessions idle longer than Retention.
type Reaper struct {
	Store     Store
	Retention time.Duration
	Interval  time.Duration
	Logger    *slog.Logger

	// OnExpire runs once per evicted session, after it is gone from Store.
	OnExpire func(ctx context.Context, s calls.Session)
}

func (r Reaper) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Run blocks until ctx is cancelled.
func (r Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				r.logger().Warn("session reap failed", "err", err)
			}
		}
	}
}

// ReapOnce runs a single eviction pass and returns the number of removed sessions.
func (r Reaper) ReapOnce(ctx context.Context) (int, error) {
	retention := r.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	expired, err := r.Store.ExpireOlderThan(ctx, retention)
	if err != nil {
		return 0, err
	}
	if r.OnExpire != nil {
		for _, s := range expired {
			r.OnExpire(ctx, s)
		}
	}
	if len(expired) > 0 {
		r.logger().Info("sessions expired", "count", len(expired), "retention", retention.String())
	}
	return len(expired), nil
}
