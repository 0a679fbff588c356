package store

import (
	"context"
	"time"
)

// RpcEndpoint is one rpc_endpoints row. Mutated by the probe pipeline
// only; `status` must equal the score-derived status at write time
// (enforced by the caller, not the store).
type RpcEndpoint struct {
	ID             int64
	URL            string
	IsActive       bool
	Score          int
	Status         string
	SupportsTraces bool
	LastProbeAt    int64
}

// RpcHealthSample is one append-only probe observation.
type RpcHealthSample struct {
	EndpointID int64
	SampledAt  int64
	LatencyMs  *int
	BlockNum   *uint64
	IsSuccess  bool
	ErrorCode  *string
}

// EndpointStore implements the rpc_endpoints / rpc_health_samples side
// of the data model.
type EndpointStore struct {
	pool Querier
}

func NewEndpointStore(pool Querier) *EndpointStore {
	return &EndpointStore{pool: pool}
}

// ListActive returns every is_active=true endpoint. Callers must not
// cache the result across selections.
func (s *EndpointStore) ListActive(ctx context.Context) ([]RpcEndpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, is_active, score, status, supports_traces, last_probe_at
		FROM rpc_endpoints
		WHERE is_active = true
		ORDER BY score DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RpcEndpoint
	for rows.Next() {
		var e RpcEndpoint
		if err := rows.Scan(&e.ID, &e.URL, &e.IsActive, &e.Score, &e.Status, &e.SupportsTraces, &e.LastProbeAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateScoring writes the fields the probe pipeline owns for one
// endpoint.
func (s *EndpointStore) UpdateScoring(ctx context.Context, id int64, score int, status string, supportsTraces bool, lastProbeAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rpc_endpoints
		SET score = $2, status = $3, supports_traces = $4, last_probe_at = $5, updated_at = $5
		WHERE id = $1
	`, id, score, status, supportsTraces, lastProbeAt.Unix())
	return err
}

// InsertHealthSample appends one probe observation.
func (s *EndpointStore) InsertHealthSample(ctx context.Context, sample RpcHealthSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rpc_health_samples (endpoint_id, sampled_at, latency_ms, block_number, is_success, error_code)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sample.EndpointID, sample.SampledAt, sample.LatencyMs, sample.BlockNum, sample.IsSuccess, sample.ErrorCode)
	return err
}

// CountUnhealthyActive counts is_active endpoints with
// status='unhealthy', for the provider_down alert.
func (s *EndpointStore) CountUnhealthyActive(ctx context.Context) (int64, error) {
	var count int64
	row := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM rpc_endpoints WHERE is_active = true AND status = 'unhealthy'
	`)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// EndpointRef is the (id, url) pair the provider manager needs to
// build or reuse a client.
type EndpointRef struct {
	ID  int64
	URL string
}

// PickHealthyPrimary returns the highest-scoring active endpoint with
// status='healthy'.
func (s *EndpointStore) PickHealthyPrimary(ctx context.Context) (EndpointRef, bool, error) {
	return s.pickOne(ctx, `
		SELECT id, url FROM rpc_endpoints
		WHERE is_active = true AND status = 'healthy'
		ORDER BY score DESC LIMIT 1
	`)
}

// PickAnyActivePrimary is the failover fallback: highest-scoring
// active endpoint regardless of status.
func (s *EndpointStore) PickAnyActivePrimary(ctx context.Context) (EndpointRef, bool, error) {
	return s.pickOne(ctx, `
		SELECT id, url FROM rpc_endpoints
		WHERE is_active = true
		ORDER BY score DESC LIMIT 1
	`)
}

// PickTraceProvider returns the highest-scoring healthy endpoint that
// supports traces.
func (s *EndpointStore) PickTraceProvider(ctx context.Context) (EndpointRef, bool, error) {
	return s.pickOne(ctx, `
		SELECT id, url FROM rpc_endpoints
		WHERE is_active = true AND supports_traces = true AND status = 'healthy'
		ORDER BY score DESC LIMIT 1
	`)
}

func (s *EndpointStore) pickOne(ctx context.Context, query string) (EndpointRef, bool, error) {
	row := s.pool.QueryRow(ctx, query)
	var ref EndpointRef
	if err := row.Scan(&ref.ID, &ref.URL); err != nil {
		if err == ErrNoRows {
			return EndpointRef{}, false, nil
		}
		return EndpointRef{}, false, err
	}
	return ref, true, nil
}

// ScoreByID returns one endpoint's current score.
func (s *EndpointStore) ScoreByID(ctx context.Context, id int64) (int, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT score FROM rpc_endpoints WHERE id = $1`, id)
	var score int
	if err := row.Scan(&score); err != nil {
		if err == ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return score, true, nil
}
