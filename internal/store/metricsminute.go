package store

import (
	"context"
	"encoding/json"
	"math/big"
)

// MetricsMinute is one minute-aligned metrics_minute row.
type MetricsMinute struct {
	BucketTs      int64
	TxCount       int64
	TxFailedCount int64
	GasUsedTotal  *big.Int
	GasPriceAvg   int64
	BlockCount    int64
	UniqueSenders int64
	TopErrors     []TopErrorEntry
}

// TopErrorEntry is one element of metrics_minute.top_errors.
type TopErrorEntry struct {
	Signature string `json:"signature"`
	Name      string `json:"name"`
	Count     int64  `json:"count"`
}

// MetricsStore implements the metrics_minute side of the data model.
type MetricsStore struct {
	pool Querier
}

func NewMetricsStore(pool Querier) *MetricsStore {
	return &MetricsStore{pool: pool}
}

// Upsert fully replaces the aggregated columns for bucketTs on
// conflict.
func (s *MetricsStore) Upsert(ctx context.Context, m MetricsMinute) error {
	topErrorsJSON, err := json.Marshal(m.TopErrors)
	if err != nil {
		return err
	}
	gasUsedTotal := "0"
	if m.GasUsedTotal != nil {
		gasUsedTotal = m.GasUsedTotal.String()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO metrics_minute (
			bucket_ts, tx_count, tx_failed_count, gas_used_total, gas_price_avg,
			block_count, unique_senders, top_errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (bucket_ts) DO UPDATE SET
			tx_count = $2, tx_failed_count = $3, gas_used_total = $4, gas_price_avg = $5,
			block_count = $6, unique_senders = $7, top_errors = $8
	`, m.BucketTs, m.TxCount, m.TxFailedCount, gasUsedTotal, m.GasPriceAvg,
		m.BlockCount, m.UniqueSenders, topErrorsJSON)
	return err
}

// AvgGasPriceInRange computes avg(gas_price_avg) over
// [start, end), for the gas_spike alert. Returns (0, false) if no
// bucket falls in range (distinguishing "no data" from "zero").
func (s *MetricsStore) AvgGasPriceInRange(ctx context.Context, start, end int64) (float64, bool, error) {
	var avg *float64
	row := s.pool.QueryRow(ctx, `
		SELECT avg(gas_price_avg) FROM metrics_minute WHERE bucket_ts >= $1 AND bucket_ts < $2
	`, start, end)
	if err := row.Scan(&avg); err != nil {
		return 0, false, err
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}
