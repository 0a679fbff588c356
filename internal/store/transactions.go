package store

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

// Transaction is one ingested txs row, keyed by hash.
type Transaction struct {
	Hash            string
	BlockNumber     uint64
	BlockTimestamp  int64
	FromAddress     string
	ToAddress       *string
	ContractID      *int64
	ValueWei        *big.Int
	GasUsed         uint64
	GasPrice        uint64
	Status          int
	ErrorRaw        *string
	ErrorSignature  *string
	ErrorDecoded    *string
	ErrorParamsJSON []byte
	MethodID        *string
	MethodName      *string
	HasTrace        bool
	IsTentative     bool
	IngestedAt      int64
}

// TxStore implements the `txs` side of the data model: the scanner's
// idempotent batch insert and tentative-marking, plus the aggregation
// queries the rollup and alert pipelines read.
type TxStore struct {
	pool Querier
}

func NewTxStore(pool Querier) *TxStore {
	return &TxStore{pool: pool}
}

// BatchInsert idempotently inserts rows with `ON CONFLICT (hash) DO
// NOTHING`, so a replayed block produces no duplicate or error.
func (s *TxStore) BatchInsert(ctx context.Context, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	const cols = 19
	var sb strings.Builder
	sb.WriteString(`INSERT INTO txs (
		hash, block_number, block_timestamp, from_address, to_address, contract_id,
		value_wei, gas_used, gas_price, status, error_raw, error_signature,
		error_decoded, error_params, method_id, method_name, has_trace, is_tentative, ingested_at
	) VALUES `)

	args := make([]any, 0, len(txs)*cols)
	for i, tx := range txs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		sb.WriteString("(")
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j+1)
		}
		sb.WriteString(")")

		var valueWei string
		if tx.ValueWei != nil {
			valueWei = tx.ValueWei.String()
		} else {
			valueWei = "0"
		}
		args = append(args,
			tx.Hash, tx.BlockNumber, tx.BlockTimestamp, tx.FromAddress, tx.ToAddress, tx.ContractID,
			valueWei, tx.GasUsed, tx.GasPrice, tx.Status, tx.ErrorRaw, tx.ErrorSignature,
			tx.ErrorDecoded, tx.ErrorParamsJSON, tx.MethodID, tx.MethodName, tx.HasTrace, tx.IsTentative,
			tx.IngestedAt,
		)
	}
	sb.WriteString(" ON CONFLICT (hash) DO NOTHING")

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

// MarkTentative flags every tx at block_number >= fromBlock as
// pending-reconfirmation after a reorg.
func (s *TxStore) MarkTentative(ctx context.Context, fromBlock uint64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE txs SET is_tentative = true WHERE block_number >= $1
	`, fromBlock)
	return err
}

// CountInRange counts txs with block_timestamp in [start, end).
func (s *TxStore) CountInRange(ctx context.Context, start, end int64) (int64, error) {
	var count int64
	row := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM txs WHERE block_timestamp >= $1 AND block_timestamp < $2
	`, start, end)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// WindowAggregate is the per-minute aggregate the rollup pipeline
// computes over a bucket's tx rows.
type WindowAggregate struct {
	TxCount       int64
	TxFailedCount int64
	GasUsedTotal  *big.Int
	GasPriceAvg   int64
	BlockCount    int64
	UniqueSenders int64
}

// AggregateRange computes the minute-rollup aggregate over
// [start, end).
func (s *TxStore) AggregateRange(ctx context.Context, start, end int64) (WindowAggregate, error) {
	var agg WindowAggregate
	var gasUsedTotal string
	row := s.pool.QueryRow(ctx, `
		SELECT
			count(*) AS tx_count,
			count(*) FILTER (WHERE status = 0) AS tx_failed_count,
			coalesce(sum(gas_used), 0) AS gas_used_total,
			coalesce(trunc(avg(gas_price)), 0) AS gas_price_avg,
			count(DISTINCT block_number) AS block_count,
			count(DISTINCT from_address) AS unique_senders
		FROM txs
		WHERE block_timestamp >= $1 AND block_timestamp < $2
	`, start, end)
	if err := row.Scan(&agg.TxCount, &agg.TxFailedCount, &gasUsedTotal, &agg.GasPriceAvg, &agg.BlockCount, &agg.UniqueSenders); err != nil {
		return WindowAggregate{}, err
	}
	n, ok := new(big.Int).SetString(gasUsedTotal, 10)
	if !ok {
		n = new(big.Int)
	}
	agg.GasUsedTotal = n
	return agg, nil
}

// TopError is one row of the top-5-by-count error aggregation.
type TopError struct {
	Signature string
	Decoded   string
	Count     int64
}

// TopErrors returns up to 5 (signature, decoded) pairs by count desc
// among failed txs carrying a decoded selector.
func (s *TxStore) TopErrors(ctx context.Context, start, end int64) ([]TopError, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT error_signature, coalesce(error_decoded, ''), count(*) AS cnt
		FROM txs
		WHERE block_timestamp >= $1 AND block_timestamp < $2
		  AND status = 0 AND error_signature IS NOT NULL
		GROUP BY error_signature, error_decoded
		ORDER BY cnt DESC
		LIMIT 5
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopError
	for rows.Next() {
		var te TopError
		if err := rows.Scan(&te.Signature, &te.Decoded, &te.Count); err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	return out, rows.Err()
}

// FailureRate computes (failed, total) txs in [windowStart, now),
// optionally restricted to contractIDs.
func (s *TxStore) FailureRate(ctx context.Context, windowStart, now int64, contractIDs []int64) (failed, total int64, err error) {
	var row Row
	if len(contractIDs) > 0 {
		row = s.pool.QueryRow(ctx, `
			SELECT
				count(*) FILTER (WHERE status = 0) AS failed,
				count(*) AS total
			FROM txs
			WHERE block_timestamp >= $1 AND block_timestamp < $2
			  AND contract_id = ANY($3)
		`, windowStart, now, contractIDs)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT
				count(*) FILTER (WHERE status = 0) AS failed,
				count(*) AS total
			FROM txs
			WHERE block_timestamp >= $1 AND block_timestamp < $2
		`, windowStart, now)
	}
	if scanErr := row.Scan(&failed, &total); scanErr != nil {
		return 0, 0, scanErr
	}
	return failed, total, nil
}
