// Command worker runs the Mantle ingestion and evaluation worker:
// the provider probe, block scanner, metrics rollup, and alert
// evaluator pipelines, sharing one database pool and provider
// manager.
package main

import (
	"context"
	"log"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/mantle-obs/worker/internal/config"
	"github.com/mantle-obs/worker/internal/logging"
	"github.com/mantle-obs/worker/internal/metrics"
	"github.com/mantle-obs/worker/internal/pipeline/alert"
	"github.com/mantle-obs/worker/internal/pipeline/probe"
	"github.com/mantle-obs/worker/internal/pipeline/rollup"
	"github.com/mantle-obs/worker/internal/pipeline/scanner"
	"github.com/mantle-obs/worker/internal/provider"
	"github.com/mantle-obs/worker/internal/store"
	"github.com/mantle-obs/worker/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Missing required env is fatal at startup.
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting worker", zap.String("worker_id", cfg.WorkerID), zap.Int("chain_id", cfg.ChainID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var ready atomic.Bool
	board := metrics.NewStatusBoard()
	stopAdmin, err := metrics.StartAdminServer(cfg.AdminListenAddress, ready.Load, board)
	if err != nil {
		logger.Fatal("failed to start admin server", zap.Error(err))
	}
	defer stopAdmin()

	poolCfg := store.PoolConfig{
		URL:            cfg.DatabaseURL,
		MinConns:       int32(cfg.DBMinConns),
		MaxConns:       int32(cfg.DBMaxConns),
		CommandTimeout: cfg.DBCommandTimeout,
	}

	// The pool and pipelines live in one goroutine so that a database
	// outage at startup defers, rather than forfeits, the pipeline
	// start: the admin server serves /healthz as not-ready while a
	// background loop keeps retrying the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)

		pool, err := store.Open(ctx, poolCfg, logger)
		if err != nil {
			logger.Error("database unavailable at startup; retrying in background", zap.Error(err))
			pool, err = store.OpenUntilReady(ctx, poolCfg, logger)
			if err != nil {
				// Shutdown arrived before the database came back.
				return
			}
		}
		defer pool.Close()
		ready.Store(true)

		w := buildWorker(cfg, pool, logger, board)
		w.Start(ctx)
		<-ctx.Done()
		w.Stop()
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping pipelines")
	<-done
	logger.Info("worker exited cleanly")
}

func buildWorker(cfg config.Config, pool *store.Pool, logger *zap.Logger, board *metrics.StatusBoard) *worker.Worker {
	endpointStore := store.NewEndpointStore(pool)
	stateStore := store.NewStateStore(pool)
	txStore := store.NewTxStore(pool)
	contractStore := store.NewContractStore(pool)
	metricsStore := store.NewMetricsStore(pool)
	alertStore := store.NewAlertStore(pool)

	providerManager, err := provider.New(endpointStore, 32, logger)
	if err != nil {
		logger.Fatal("failed to build provider manager", zap.Error(err))
	}

	probePipeline := probe.New(endpointStore, cfg.RPCTimeoutDefault, cfg.MaxConcurrentProbes,
		logger.With(zap.String("pipeline", "provider_probe")))
	scannerPipeline := scanner.New(providerManager, stateStore, txStore, contractStore, cfg.RPCTimeoutDefault, cfg.BlockBatchSize,
		logger.With(zap.String("pipeline", "block_scanner")))
	rollupPipeline := rollup.New(stateStore, txStore, metricsStore,
		logger.With(zap.String("pipeline", "metrics_rollup")))
	alertPipeline := alert.New(stateStore, txStore, metricsStore, endpointStore, alertStore,
		logger.With(zap.String("pipeline", "alert_evaluator")))

	return worker.New(worker.Config{
		Probe:               probePipeline,
		Scanner:             scannerPipeline,
		Rollup:              rollupPipeline,
		Alert:               alertPipeline,
		PollIntervalProbe:   cfg.PollIntervalProbe,
		PollIntervalScanner: cfg.PollIntervalScanner,
		PollIntervalRollup:  cfg.PollIntervalRollup,
		PollIntervalAlerts:  cfg.PollIntervalAlerts,
		Logger:              logger,
		Board:               board,
	})
}
