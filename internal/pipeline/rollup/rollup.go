// Package rollup implements the per-minute metrics aggregation
// pipeline.
package rollup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mantle-obs/worker/internal/store"
)

// bucketSeconds is the minute-bucket width; every bucket_ts is a
// multiple of it.
const bucketSeconds = 60

// StateStore is the subset of store.StateStore the rollup pipeline
// needs.
type StateStore interface {
	GetRollupCursor(ctx context.Context) (store.RollupCursor, error)
	SetRollupCursor(ctx context.Context, lastBucketTs int64, now time.Time) error
}

// TxStore is the subset of store.TxStore the rollup pipeline needs.
type TxStore interface {
	CountInRange(ctx context.Context, start, end int64) (int64, error)
	AggregateRange(ctx context.Context, start, end int64) (store.WindowAggregate, error)
	TopErrors(ctx context.Context, start, end int64) ([]store.TopError, error)
}

// MetricsStore is the subset of store.MetricsStore the rollup
// pipeline needs.
type MetricsStore interface {
	Upsert(ctx context.Context, m store.MetricsMinute) error
}

// Pipeline aggregates completed minute buckets of ingested txs into
// metrics_minute rows. Only one bucket advances per cycle: catch-up
// is bounded by cycle frequency, which is acceptable because rollup
// trails ingest by design.
type Pipeline struct {
	state   StateStore
	txs     TxStore
	metrics MetricsStore
	logger  *zap.Logger

	now func() time.Time
}

func New(state StateStore, txs TxStore, metrics MetricsStore, logger *zap.Logger) *Pipeline {
	return &Pipeline{state: state, txs: txs, metrics: metrics, logger: logger, now: time.Now}
}

// RunCycle executes one rollup cycle, writing at most the one
// completed minute just behind the current one.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	cursor, err := p.state.GetRollupCursor(ctx)
	if err != nil {
		return fmt.Errorf("rollup: load cursor: %w", err)
	}

	currentBucket := currentBucketTs(p.now())
	target := currentBucket - bucketSeconds
	if target <= cursor.LastBucketTs {
		return nil
	}

	count, err := p.txs.CountInRange(ctx, target, target+bucketSeconds)
	if err != nil {
		return fmt.Errorf("rollup: count bucket %d: %w", target, err)
	}
	if count == 0 {
		return p.advance(ctx, target)
	}

	agg, err := p.txs.AggregateRange(ctx, target, target+bucketSeconds)
	if err != nil {
		return fmt.Errorf("rollup: aggregate bucket %d: %w", target, err)
	}

	topErrors, err := p.txs.TopErrors(ctx, target, target+bucketSeconds)
	if err != nil {
		return fmt.Errorf("rollup: top errors bucket %d: %w", target, err)
	}
	entries := make([]store.TopErrorEntry, 0, len(topErrors))
	for _, te := range topErrors {
		entries = append(entries, store.TopErrorEntry{Signature: te.Signature, Name: te.Decoded, Count: te.Count})
	}

	if err := p.metrics.Upsert(ctx, store.MetricsMinute{
		BucketTs:      target,
		TxCount:       agg.TxCount,
		TxFailedCount: agg.TxFailedCount,
		GasUsedTotal:  agg.GasUsedTotal,
		GasPriceAvg:   agg.GasPriceAvg,
		BlockCount:    agg.BlockCount,
		UniqueSenders: agg.UniqueSenders,
		TopErrors:     entries,
	}); err != nil {
		return fmt.Errorf("rollup: upsert bucket %d: %w", target, err)
	}

	if p.logger != nil {
		p.logger.Info("rollup: bucket written", zap.Int64("bucket_ts", target), zap.Int64("tx_count", agg.TxCount))
	}
	return p.advance(ctx, target)
}

func (p *Pipeline) advance(ctx context.Context, target int64) error {
	if err := p.state.SetRollupCursor(ctx, target, p.now()); err != nil {
		return fmt.Errorf("rollup: advance cursor to %d: %w", target, err)
	}
	return nil
}

// currentBucketTs floors now to the start of its minute.
func currentBucketTs(now time.Time) int64 {
	return (now.Unix() / bucketSeconds) * bucketSeconds
}
