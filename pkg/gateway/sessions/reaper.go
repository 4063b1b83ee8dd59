package sessions

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically evicts sessions with no inbound activity beyond the
// idle timeout. It is the backstop for calls whose stop event was lost.
type Reaper struct {
	Registry *Registry
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

func (r *Reaper) sweep(now time.Time) (reaped int) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	cutoff := now.Add(-timeout)

	for _, id := range r.Registry.ids() {
		s, ok := r.Registry.removeIfIdle(id, cutoff)
		if !ok {
			continue
		}
		s.ClosePeer()
		reaped++
		if r.Logger != nil {
			r.Logger.Info("reaped idle session",
				"call_sid", s.ID,
				"idle_for", now.Sub(s.LastActive()).Round(time.Second).String(),
			)
		}
	}
	return reaped
}
