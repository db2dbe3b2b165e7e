package signalsvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"trading-signal/internal/logger"
)

// Getter is the part of Service the warmer needs.
type Getter interface {
	GetSignal(ctx context.Context, instrument string) (Result, error)
}

// Warmer refreshes signals for a fixed instrument list on a cron schedule
// so client requests find a fresh cache entry.
type Warmer struct {
	Cron        *cron.Cron
	svc         Getter
	instruments []string
	timeout     time.Duration
	ctx         context.Context
}

// NewWarmer registers the refresh job. schedule is a standard cron expression or
// a descriptor such as "@every 1m". timeout bounds each instrument.
func NewWarmer(ctx context.Context, svc Getter, schedule string, instruments []string, timeout time.Duration) (*Warmer, error) {
	w := &Warmer{
		Cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		svc:         svc,
		instruments: instruments,
		timeout:     timeout,
		ctx:         ctx,
	}
	if _, err := w.Cron.AddFunc(schedule, func() { w.WarmAll(w.ctx) }); err != nil {
		return nil, fmt.Errorf("register warm job %q: %w", schedule, err)
	}
	return w, nil
}

// Start starts the cron scheduler.
func (w *Warmer) Start() {
	w.Cron.Start()
	slog.Info("signal warmer started", "instruments", w.instruments)
}

// Stop stops the scheduler and waits for a running job to finish.
func (w *Warmer) Stop() {
	<-w.Cron.Stop().Done()
	slog.Info("signal warmer stopped")
}

// WarmAll requests every instrument once. Failures are logged per
// instrument and do not stop the rest. Returns the number refreshed.
func (w *Warmer) WarmAll(ctx context.Context) int {
	ctx = logger.WithTraceID(ctx, logger.NewTraceID())
	ok := 0
	for _, inst := range w.instruments {
		if ctx.Err() != nil {
			break
		}
		callCtx := ctx
		var cancel context.CancelFunc = func() {}
		if w.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		}
		res, err := w.svc.GetSignal(callCtx, inst)
		cancel()
		if err != nil {
			slog.Warn("warm failed", append(logger.LogWithTrace(ctx), "instrument", inst, "error", err)...)
			continue
		}
		ok++
		slog.Debug("warmed", append(logger.LogWithTrace(ctx), "instrument", inst, "signal", res.Signal, "cached", res.Cached)...)
	}
	return ok
}
