package store

import (
	"context"
	"encoding/json"
	"time"
)

// StateStore persists worker_state rows: a small set of named JSON
// cursors (last_scanned_block, metrics_rollup_cursor,
// alert_eval_cursor).
type StateStore struct {
	pool Querier
}

// Querier is the subset of pgxpool.Pool every store uses, narrowed to
// allow fakes in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

func NewStateStore(pool Querier) *StateStore {
	return &StateStore{pool: pool}
}

// LastScannedBlock is the `last_scanned_block` cursor shape.
type LastScannedBlock struct {
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
	Timestamp   int64  `json:"timestamp"`
}

// GetLastScannedBlock returns the cursor, defaulting to block 0 /
// hash 0x0 if unset.
func (s *StateStore) GetLastScannedBlock(ctx context.Context) (LastScannedBlock, error) {
	var raw json.RawMessage
	found, err := s.getState(ctx, "last_scanned_block", &raw)
	if err != nil {
		return LastScannedBlock{}, err
	}
	if !found {
		return LastScannedBlock{BlockNumber: 0, BlockHash: "0x0"}, nil
	}
	var v LastScannedBlock
	if err := json.Unmarshal(raw, &v); err != nil {
		return LastScannedBlock{}, err
	}
	return v, nil
}

// SetLastScannedBlock upserts the cursor with the current time.
func (s *StateStore) SetLastScannedBlock(ctx context.Context, blockNumber uint64, blockHash string, now time.Time) error {
	return s.setState(ctx, "last_scanned_block", LastScannedBlock{
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		Timestamp:   now.Unix(),
	}, now)
}

// RollupCursor is the `metrics_rollup_cursor` shape.
type RollupCursor struct {
	LastBucketTs int64 `json:"last_bucket_ts"`
}

func (s *StateStore) GetRollupCursor(ctx context.Context) (RollupCursor, error) {
	var raw json.RawMessage
	found, err := s.getState(ctx, "metrics_rollup_cursor", &raw)
	if err != nil {
		return RollupCursor{}, err
	}
	if !found {
		return RollupCursor{LastBucketTs: 0}, nil
	}
	var v RollupCursor
	if err := json.Unmarshal(raw, &v); err != nil {
		return RollupCursor{}, err
	}
	return v, nil
}

func (s *StateStore) SetRollupCursor(ctx context.Context, lastBucketTs int64, now time.Time) error {
	return s.setState(ctx, "metrics_rollup_cursor", RollupCursor{LastBucketTs: lastBucketTs}, now)
}

// AlertEvalCursor is the `alert_eval_cursor` shape.
type AlertEvalCursor struct {
	LastEvalTs int64 `json:"last_eval_ts"`
}

func (s *StateStore) GetAlertEvalCursor(ctx context.Context) (AlertEvalCursor, error) {
	var raw json.RawMessage
	found, err := s.getState(ctx, "alert_eval_cursor", &raw)
	if err != nil {
		return AlertEvalCursor{}, err
	}
	if !found {
		return AlertEvalCursor{LastEvalTs: 0}, nil
	}
	var v AlertEvalCursor
	if err := json.Unmarshal(raw, &v); err != nil {
		return AlertEvalCursor{}, err
	}
	return v, nil
}

func (s *StateStore) SetAlertEvalCursor(ctx context.Context, lastEvalTs int64, now time.Time) error {
	return s.setState(ctx, "alert_eval_cursor", AlertEvalCursor{LastEvalTs: lastEvalTs}, now)
}

func (s *StateStore) getState(ctx context.Context, key string, dst *json.RawMessage) (bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT value FROM worker_state WHERE key = $1`, key)
	if err := row.Scan(dst); err != nil {
		if err == ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *StateStore) setState(ctx context.Context, key string, value any, now time.Time) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO worker_state (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET value = $2, updated_at = $3
	`, key, encoded, now.Unix())
	return err
}
