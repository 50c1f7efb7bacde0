package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Lifecycle owns the tracker's two background loops. Obtained from
// [Tracker.Start]; call [Lifecycle.Stop] when the conversation ends to
// cancel both loops deterministically.
type Lifecycle struct {
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Start launches the monitor and predictor loops. The monitor force-stops
// active speakers whose predicted end has elapsed (cleanup against missed
// stop events); the predictor refreshes predicted end times from updated
// rolling averages. Both loops only read and apply the same idempotent
// mutations as live events, never blocking [Tracker.UpdateSpeakerActivity].
//
// The loops stop when ctx is cancelled or [Lifecycle.Stop] is called.
func (t *Tracker) Start(ctx context.Context) *Lifecycle {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runLoop(ctx, t.cfg.MonitorInterval, t.sweepTimeouts)
	})
	g.Go(func() error {
		return runLoop(ctx, t.cfg.PredictorInterval, t.refreshPredictions)
	})

	slog.Debug("realtime: tracker loops started",
		"monitor_interval", t.cfg.MonitorInterval,
		"predictor_interval", t.cfg.PredictorInterval,
	)
	return &Lifecycle{cancel: cancel, group: g}
}

// runLoop ticks fn at the given interval until ctx is cancelled.
func runLoop(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// Stop cancels both loops and waits for them to exit. Safe to call more
// than once.
func (l *Lifecycle) Stop() {
	l.cancel()
	if err := l.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("realtime: tracker loop exited with error", "err", err)
	}
}
