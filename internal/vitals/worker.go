package vitals

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StartWorker aggregates the last 24 completed hours and the previous day at
// startup, then the previous hour on every hourly tick. When that hour is the
// last of its day the day is aggregated too. Failures are logged; the next
// tick retries. The goroutine exits when ctx is done.
func (e *Engine) StartWorker(ctx context.Context, backfillConcurrency int) {
	go func() {
		if err := e.Backfill(ctx, e.now(), 24, backfillConcurrency); err != nil {
			e.log.Error("aggregation backfill incomplete", zap.Error(err))
		}
		if _, err := e.AggregateDay(ctx, e.today().AddDate(0, 0, -1)); err != nil {
			e.log.Error("daily aggregation error (startup)", zap.Error(err))
		}

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				e.RunScheduled(ctx, t)
			}
		}
	}()
}

// RunScheduled performs the work due at tick time t. The day is combined
// after its last hour even when that hour failed, from whatever hourly rows exist.
func (e *Engine) RunScheduled(ctx context.Context, t time.Time) {
	prevHour := t.UTC().Truncate(time.Hour).Add(-time.Hour)
	if _, err := e.AggregateHour(ctx, prevHour); err != nil {
		e.log.Error("hourly aggregation error", zap.Time("hour", prevHour), zap.Error(err))
	}
	if prevHour.Hour() == 23 {
		if _, err := e.AggregateDay(ctx, prevHour); err != nil {
			e.log.Error("daily aggregation error", zap.Time("day", prevHour), zap.Error(err))
		}
	}
}

// Backfill aggregates the hours completed before now, newest first, running
// up to concurrency hours at once. Distinct hours share no rows, so they are
// safe to aggregate in parallel. The first error is returned after all hours ran.
func (e *Engine) Backfill(ctx context.Context, now time.Time, hours, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)

	current := now.UTC().Truncate(time.Hour)
	for i := 1; i <= hours; i++ {
		hourStart := current.Add(-time.Duration(i) * time.Hour)
		g.Go(func() error {
			if _, err := e.AggregateHour(ctx, hourStart); err != nil {
				e.log.Error("hourly aggregation error (backfill)", zap.Time("hour", hourStart), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
