package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runs all background loops (trust model, anomaly sweep, investigation drain, appeal drain, daily report) until the context is cancelled.
//
// Each loop logs failures and carries on with its next tick; none of them can stop the others.
func (eng *Engine) Run(ctx context.Context) error {
	if n, err := eng.RecoverStaleInvestigations(ctx); err != nil {
		eng.Logger.Error("recovering stale investigations", "err", err)
	} else if n > 0 {
		eng.Logger.Info("released stale investigation claims", "count", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.every(ctx, "trust", eng.Policy.DecayInterval, func(ctx context.Context) error {
			_, err := eng.RunTrustPass(ctx)
			return err
		})
	})
	g.Go(func() error {
		return eng.every(ctx, "sweep", eng.Policy.SweepInterval, func(ctx context.Context) error {
			if _, err := eng.RecoverStaleInvestigations(ctx); err != nil {
				return err
			}
			_, err := eng.Sweep(ctx)
			return err
		})
	})
	g.Go(func() error {
		return eng.every(ctx, "investigations", eng.Policy.InvestigationInterval, func(ctx context.Context) error {
			eng.DrainInvestigations(ctx)
			return nil
		})
	})
	g.Go(func() error {
		return eng.every(ctx, "appeals", eng.Policy.AppealInterval, func(ctx context.Context) error {
			_, err := eng.DrainAppeals(ctx)
			return err
		})
	})
	g.Go(func() error {
		return eng.reportLoop(ctx)
	})
	return g.Wait()
}

// Calls fn on a fixed interval. Errors and panics are logged and the loop continues; returns nil when the context is done.
func (eng *Engine) every(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			eng.Logger.Info("background loop stopping", "loop", name)
			return nil
		case <-ticker.C:
			eng.runOnce(ctx, name, fn)
		}
	}
}

func (eng *Engine) runOnce(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("background loop exception", "loop", name, "err", r)
			loopErrors.WithLabelValues(name).Inc()
		}
	}()
	start := time.Now()
	err := fn(ctx)
	loopDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil && ctx.Err() == nil {
		eng.Logger.Error("background loop failed", "loop", name, "err", err)
		loopErrors.WithLabelValues(name).Inc()
	}
}

// Sleeps until the configured wall-clock time, then reports on the prior UTC day.
func (eng *Engine) reportLoop(ctx context.Context) error {
	for {
		next := eng.nextReportTime(eng.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		day := next.Add(-24 * time.Hour).Format(time.DateOnly)
		eng.runOnce(ctx, "report", func(ctx context.Context) error {
			n, err := eng.RunDailyReports(ctx, day)
			if err == nil {
				eng.Logger.Info("daily reports generated", "day", day, "count", n)
			}
			return err
		})
	}
}
