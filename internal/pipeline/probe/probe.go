// Package probe implements the provider health probe pipeline: each
// cycle samples every active endpoint, scores it, and writes the
// score and a health sample back.
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mantle-obs/worker/internal/metrics"
	"github.com/mantle-obs/worker/internal/provider"
	"github.com/mantle-obs/worker/internal/rpcclient"
	"github.com/mantle-obs/worker/internal/store"
)

// EndpointStore is the subset of store.EndpointStore this pipeline
// needs.
type EndpointStore interface {
	ListActive(ctx context.Context) ([]store.RpcEndpoint, error)
	UpdateScoring(ctx context.Context, id int64, score int, status string, supportsTraces bool, lastProbeAt time.Time) error
	InsertHealthSample(ctx context.Context, sample store.RpcHealthSample) error
}

// Pipeline runs one probe cycle at a time. Consecutive-failure counts
// are held in memory and reset only by a successful probe.
type Pipeline struct {
	store               EndpointStore
	defaultTimeout      time.Duration
	maxConcurrentProbes int
	logger              *zap.Logger

	mu                  sync.Mutex
	consecutiveFailures map[int64]int
}

func New(endpointStore EndpointStore, defaultTimeout time.Duration, maxConcurrentProbes int, logger *zap.Logger) *Pipeline {
	if maxConcurrentProbes <= 0 {
		maxConcurrentProbes = 3
	}
	return &Pipeline{
		store:               endpointStore,
		defaultTimeout:      defaultTimeout,
		maxConcurrentProbes: maxConcurrentProbes,
		logger:              logger,
		consecutiveFailures: make(map[int64]int),
	}
}

type sampleResult struct {
	endpointID     int64
	supportsTraces bool
	latencyMs      *int
	blockNum       *uint64
	isSuccess      bool
	errorCode      *string
}

// RunCycle executes one probe cycle for all active endpoints.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	endpoints, err := p.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("probe: list active endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		if p.logger != nil {
			p.logger.Warn("probe: no active endpoints to probe")
		}
		return nil
	}

	results := make([]sampleResult, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrentProbes)
	for i, ep := range endpoints {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = p.probeOne(gctx, ep)
			return nil
		})
	}
	_ = g.Wait() // probeOne never returns an error; failures are recorded per-endpoint

	leaderBlock := uint64(0)
	for _, r := range results {
		if r.isSuccess && r.blockNum != nil && *r.blockNum > leaderBlock {
			leaderBlock = *r.blockNum
		}
	}

	sampledAt := time.Now()
	for _, r := range results {
		p.score(ctx, r, leaderBlock, sampledAt)
	}
	return nil
}

// probeOne calls eth_blockNumber on one endpoint and records success
// or typed failure, updating the in-memory failure counter.
func (p *Pipeline) probeOne(ctx context.Context, ep store.RpcEndpoint) sampleResult {
	client := rpcclient.New(ep.URL)
	start := time.Now()

	blockNum, err := client.BlockNumber(ctx, p.defaultTimeout)
	if err != nil {
		code := classifyError(err)
		p.mu.Lock()
		p.consecutiveFailures[ep.ID]++
		p.mu.Unlock()
		return sampleResult{endpointID: ep.ID, supportsTraces: ep.SupportsTraces, isSuccess: false, errorCode: &code}
	}

	latencyMs := int(time.Since(start).Milliseconds())
	p.mu.Lock()
	p.consecutiveFailures[ep.ID] = 0
	p.mu.Unlock()

	return sampleResult{endpointID: ep.ID, supportsTraces: ep.SupportsTraces, latencyMs: &latencyMs, blockNum: &blockNum, isSuccess: true}
}

func classifyError(err error) string {
	rpcErr, ok := err.(*rpcclient.Error)
	if !ok {
		return "unknown"
	}
	if rpcErr.Kind == rpcclient.KindProtocol {
		return fmt.Sprintf("rpc_%d", rpcErr.Code)
	}
	return string(rpcErr.Kind)
}

// score computes this endpoint's block_lag/score/status, appends the
// health sample, and writes back the endpoint's scoring fields.
func (p *Pipeline) score(ctx context.Context, r sampleResult, leaderBlock uint64, sampledAt time.Time) {
	blockLag := 0
	if r.isSuccess && r.blockNum != nil && leaderBlock > 0 {
		lag := int64(leaderBlock) - int64(*r.blockNum)
		if lag > 0 {
			blockLag = int(lag)
		}
	}

	p.mu.Lock()
	consecutiveFailures := p.consecutiveFailures[r.endpointID]
	p.mu.Unlock()

	score := provider.CalculateScore(r.latencyMs, consecutiveFailures, blockLag)
	status := provider.ScoreToStatus(score)
	metrics.EndpointScore.WithLabelValues(fmt.Sprintf("%d", r.endpointID)).Set(float64(score))

	if err := p.store.InsertHealthSample(ctx, store.RpcHealthSample{
		EndpointID: r.endpointID,
		SampledAt:  sampledAt.Unix(),
		LatencyMs:  r.latencyMs,
		BlockNum:   r.blockNum,
		IsSuccess:  r.isSuccess,
		ErrorCode:  r.errorCode,
	}); err != nil && p.logger != nil {
		p.logger.Error("probe: insert health sample failed", zap.Int64("endpoint_id", r.endpointID), zap.Error(err))
	}

	// supports_traces detection is stubbed: the probe never sets it
	// true itself, it only carries forward whatever was set
	// out-of-band instead of clobbering it.
	if err := p.store.UpdateScoring(ctx, r.endpointID, score, status, r.supportsTraces, sampledAt); err != nil && p.logger != nil {
		p.logger.Error("probe: update scoring failed", zap.Int64("endpoint_id", r.endpointID), zap.Error(err))
		return
	}

	if p.logger != nil {
		p.logger.Info("probe: endpoint scored",
			zap.Int64("endpoint_id", r.endpointID),
			zap.Int("score", score),
			zap.String("status", status))
	}
}
