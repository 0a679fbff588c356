// Package worker aggregates the four ingestion/evaluation pipelines
// into a single process lifecycle.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mantle-obs/worker/internal/metrics"
	"github.com/mantle-obs/worker/internal/pipeline/alert"
	"github.com/mantle-obs/worker/internal/pipeline/probe"
	"github.com/mantle-obs/worker/internal/pipeline/rollup"
	"github.com/mantle-obs/worker/internal/pipeline/scanner"
)

// errCycleSleep is the retry delay after a cycle returns an error,
// used in place of the pipeline's poll interval. With the default
// intervals it is shorter than the probe, rollup and alert intervals
// and longer than the scanner's.
const errCycleSleep = 5 * time.Second

// Cycler is satisfied by every pipeline's RunCycle method.
type Cycler interface {
	RunCycle(ctx context.Context) error
}

// Worker owns the four pipelines and their lifecycle. Config, the DB
// pool, the provider manager, and each pipeline instance are
// constructed once in cmd/worker rather than kept as package-level
// singletons; only the pipelines (with their poll intervals) are
// passed in here.
type Worker struct {
	probe   *probe.Pipeline
	scanner *scanner.Pipeline
	rollup  *rollup.Pipeline
	alert   *alert.Pipeline

	pollProbe   time.Duration
	pollRollup  time.Duration
	pollAlerts  time.Duration
	pollScanner time.Duration
	pollCatchUp time.Duration

	logger *zap.Logger
	board  *metrics.StatusBoard

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config bundles the four pipelines and their base poll intervals.
type Config struct {
	Probe   *probe.Pipeline
	Scanner *scanner.Pipeline
	Rollup  *rollup.Pipeline
	Alert   *alert.Pipeline

	PollIntervalProbe   time.Duration
	PollIntervalScanner time.Duration
	PollIntervalRollup  time.Duration
	PollIntervalAlerts  time.Duration

	Logger *zap.Logger
	Board  *metrics.StatusBoard
}

// New builds a Worker ready to Start.
func New(cfg Config) *Worker {
	return &Worker{
		probe:       cfg.Probe,
		scanner:     cfg.Scanner,
		rollup:      cfg.Rollup,
		alert:       cfg.Alert,
		pollProbe:   cfg.PollIntervalProbe,
		pollRollup:  cfg.PollIntervalRollup,
		pollAlerts:  cfg.PollIntervalAlerts,
		pollScanner: cfg.PollIntervalScanner,
		pollCatchUp: 500 * time.Millisecond,
		logger:      cfg.Logger,
		board:       cfg.Board,
	}
}

// Start launches all four pipelines as independent goroutines. Each
// owns its own cycle loop and runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.runLoop(runCtx, "provider_probe", w.probe, func() time.Duration { return w.pollProbe })
	w.runLoop(runCtx, "block_scanner", w.scanner, func() time.Duration {
		return w.scanner.NextInterval(w.pollScanner, w.pollCatchUp)
	})
	w.runLoop(runCtx, "metrics_rollup", w.rollup, func() time.Duration { return w.pollRollup })
	w.runLoop(runCtx, "alert_evaluator", w.alert, func() time.Duration { return w.pollAlerts })

	if w.logger != nil {
		w.logger.Info("worker: started 4 pipelines")
	}
}

// Stop signals every pipeline to cancel at its next suspension point
// and waits for all loops to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.logger != nil {
		w.logger.Info("worker: stopped")
	}
}

// runLoop starts one pipeline's cycle loop as a goroutine. nextDelay
// is called after every successful cycle to pick the next sleep
// (constant for three pipelines, adaptive for the scanner).
func (w *Worker) runLoop(ctx context.Context, name string, c Cycler, nextDelay func() time.Duration) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if w.logger != nil {
			w.logger.Info("worker: pipeline starting", zap.String("pipeline", name))
		}
		for {
			err := metrics.ObserveCycle(name, func() error { return c.RunCycle(ctx) })
			if w.board != nil {
				w.board.Record(name, err)
			}

			delay := nextDelay()
			if err != nil {
				if w.logger != nil {
					w.logger.Error("worker: cycle error", zap.String("pipeline", name), zap.Error(err))
				}
				delay = errCycleSleep
			}

			select {
			case <-ctx.Done():
				if w.logger != nil {
					w.logger.Info("worker: pipeline stopped", zap.String("pipeline", name))
				}
				return
			case <-time.After(delay):
			}
		}
	}()
}
