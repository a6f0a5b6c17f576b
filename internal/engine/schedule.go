package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/urlredirector/urlredirector/internal/rule"
)

// Period converts an update interval to the scheduler period: whole
// minutes, rounded up, at least one. An unset or negative interval means
// rule.DefaultUpdateInterval.
func Period(interval rule.Seconds) time.Duration {
	if interval <= 0 {
		interval = rule.DefaultUpdateInterval
	}
	minutes := (int64(interval) + 59) / 60
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// firstDelay is the time left until the store is one period older than its
// last refresh.
func firstDelay(s *rule.Store, now time.Time) time.Duration {
	period := Period(s.UpdateInterval)
	if s.UpdatedAt.IsZero() {
		return period
	}
	return min(max(s.UpdatedAt.Add(period).Sub(now), 0), period)
}

// Schedule refreshes the feeds periodically until ctx is done. The timer is
// re-armed whenever a new snapshot changes the update interval.
func (e *Engine) Schedule(ctx context.Context) {
	snap := e.Snapshot()
	interval := snap.Store.UpdateInterval
	delay := firstDelay(snap.Store, e.now())
	timer := time.NewTimer(delay)
	defer timer.Stop()
	slog.Info("Refresh scheduled", slog.Duration("period", Period(interval)), slog.Duration("next", delay))

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.rearm:
			next := e.Snapshot().Store.UpdateInterval
			if Period(next) == Period(interval) {
				interval = next
				continue
			}
			interval = next
			timer.Reset(Period(interval))
			slog.Info("Refresh rescheduled", slog.Duration("period", Period(interval)))
		case <-timer.C:
			if _, err := e.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
				slog.Error("Scheduled refresh", slog.Any("error", err))
			}
			interval = e.Snapshot().Store.UpdateInterval
			timer.Reset(Period(interval))
		}
	}
}
