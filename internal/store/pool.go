// Package store implements the worker's persistence layer: a pgxpool
// connection pool plus one repository per entity in the data model.
// The relational schema itself is an external collaborator (its DDL
// lives outside this module); these repositories only issue DML
// against tables that are assumed to already exist.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolConfig configures the shared connection pool: 2-20 connections,
// 30-60s command timeout, SSL required, prepared-statement cache
// disabled to tolerate connection-pooler proxies.
type PoolConfig struct {
	URL            string
	MinConns       int32
	MaxConns       int32
	CommandTimeout time.Duration
}

// Pool wraps a pgxpool.Pool shared by every pipeline.
type Pool struct {
	*pgxpool.Pool
	CommandTimeout time.Duration
}

// Open builds the pool, retrying connection failure with exponential
// backoff for up to 30 seconds. Callers that must not give up use
// OpenUntilReady instead.
func Open(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return open(ctx, cfg, logger, bo)
}

// OpenUntilReady keeps retrying until the database accepts connections
// or ctx is cancelled. It backs the deferred-start path: a worker that
// could not reach the database at startup stays up serving diagnostics
// and starts its pipelines once the database returns.
func OpenUntilReady(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = time.Minute
	return open(ctx, cfg, logger, bo)
}

func open(ctx context.Context, cfg PoolConfig, logger *zap.Logger, bo *backoff.ExponentialBackOff) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}

	// SSL is required: a URL that disables TLS is rejected, and any
	// plaintext fallback (sslmode=prefer) is dropped.
	if poolCfg.ConnConfig.TLSConfig == nil {
		return nil, fmt.Errorf("store: database url must not disable TLS")
	}
	tlsFallbacks := poolCfg.ConnConfig.Fallbacks[:0]
	for _, fb := range poolCfg.ConnConfig.Fallbacks {
		if fb.TLSConfig != nil {
			tlsFallbacks = append(tlsFallbacks, fb)
		}
	}
	poolCfg.ConnConfig.Fallbacks = tlsFallbacks

	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.HealthCheckPeriod = time.Minute
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	// Tolerate pgbouncer-style transaction-pooling proxies, which
	// cannot serve server-side prepared statements across requests.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	if cfg.CommandTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.CommandTimeout.Milliseconds(), 10)
	}

	var pool *pgxpool.Pool
	operation := func() error {
		p, connErr := pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr != nil {
			return connErr
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if pingErr := p.Ping(pingCtx); pingErr != nil {
			p.Close()
			return pingErr
		}
		pool = p
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		logger.Error("store: failed to establish database pool after retries", zap.Error(err))
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	logger.Info("store: database pool established",
		zap.Int32("min_conns", cfg.MinConns),
		zap.Int32("max_conns", cfg.MaxConns))

	return &Pool{Pool: pool, CommandTimeout: cfg.CommandTimeout}, nil
}

// Close releases all pooled connections.
func (p *Pool) Close() {
	p.Pool.Close()
}

// Exec, Query, and QueryRow shadow the promoted pgxpool.Pool methods
// of the same name, narrowing their return types to this package's
// Querier seam so every repository can be driven by a fake in tests.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return p.Pool.Exec(ctx, sql, args...)
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return p.Pool.Query(ctx, sql, args...)
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return p.Pool.QueryRow(ctx, sql, args...)
}
