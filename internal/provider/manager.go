// Package provider implements RPC endpoint selection, health scoring,
// and per-endpoint circuit breaking.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/mantle-obs/worker/internal/rpcclient"
	"github.com/mantle-obs/worker/internal/store"
)

// EndpointStore is the subset of store.EndpointStore the manager
// needs, narrowed for testability.
type EndpointStore interface {
	PickHealthyPrimary(ctx context.Context) (store.EndpointRef, bool, error)
	PickAnyActivePrimary(ctx context.Context) (store.EndpointRef, bool, error)
	PickTraceProvider(ctx context.Context) (store.EndpointRef, bool, error)
	ScoreByID(ctx context.Context, id int64) (int, bool, error)
}

// switchCooldown is the minimum interval between primary failovers,
// suppressing flapping between two low-scoring endpoints.
const switchCooldown = 30 * time.Second

// Manager selects the primary and trace RPC endpoints by score,
// caching one rpcclient.Client per endpoint id. It re-reads endpoint
// rows on every selection, so score and status are never cached; the
// cached client keeps the URL it was first built with for that id.
type Manager struct {
	store  EndpointStore
	logger *zap.Logger

	clients  *lru.Cache // endpoint id -> *rpcclient.Client
	breakers *Breakers

	mu             sync.Mutex
	lastSwitchTime time.Time
}

// New builds a Manager with a bounded LRU client cache of
// clientCacheSize entries and a per-endpoint breaker registry.
func New(endpointStore EndpointStore, clientCacheSize int, logger *zap.Logger) (*Manager, error) {
	if clientCacheSize <= 0 {
		clientCacheSize = 32
	}
	cache, err := lru.New(clientCacheSize)
	if err != nil {
		return nil, fmt.Errorf("provider: building client cache: %w", err)
	}
	return &Manager{
		store:    endpointStore,
		logger:   logger,
		clients:  cache,
		breakers: NewBreakers(defaultBreakerConfig(), logger),
	}, nil
}

func (m *Manager) clientFor(ref store.EndpointRef) *rpcclient.Client {
	if v, ok := m.clients.Get(ref.ID); ok {
		return v.(*rpcclient.Client)
	}
	client := rpcclient.New(ref.URL)
	m.clients.Add(ref.ID, client)
	return client
}

// GetPrimary picks the highest-scoring active+healthy endpoint,
// falling back to the highest-scoring active endpoint of any status.
// Fails only when there is no active endpoint at all.
func (m *Manager) GetPrimary(ctx context.Context) (int64, *rpcclient.Client, error) {
	ref, found, err := m.store.PickHealthyPrimary(ctx)
	if err != nil {
		return 0, nil, err
	}
	if !found {
		ref, found, err = m.store.PickAnyActivePrimary(ctx)
		if err != nil {
			return 0, nil, err
		}
		if !found {
			return 0, nil, fmt.Errorf("provider: no active endpoints available")
		}
	}
	return ref.ID, m.clientFor(ref), nil
}

// GetTraceProvider picks the highest-scoring healthy endpoint with
// supports_traces=true, or (0, nil, false) if none qualifies.
func (m *Manager) GetTraceProvider(ctx context.Context) (int64, *rpcclient.Client, bool, error) {
	ref, found, err := m.store.PickTraceProvider(ctx)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return ref.ID, m.clientFor(ref), true, nil
}

// MarkFailure is record-only with respect to endpoint scoring, which
// the probe pipeline owns exclusively; it also records a failure on
// this endpoint's breaker, which opens after MaxFailures failures in
// Closed or at once from HalfOpen, guarding call paths between probe
// cycles.
func (m *Manager) MarkFailure(endpointID int64) {
	m.breakers.Get(endpointID).RecordFailure()
	if m.logger != nil {
		m.logger.Warn("provider failed", zap.Int64("endpoint_id", endpointID))
	}
}

// RecordSuccess closes this endpoint's breaker back towards Closed.
// The scanner invokes it after each successful eth_blockNumber call;
// the probe pipeline does not go through the manager.
func (m *Manager) RecordSuccess(endpointID int64) {
	m.breakers.Get(endpointID).RecordSuccess()
}

// Allow reports whether endpointID's breaker currently permits a
// call. GetPrimary does not consult it — selection is purely by
// score/status — so callers gate on it themselves before each RPC
// call path; the scanner checks it at cycle start and again before
// every receipt fetch.
func (m *Manager) Allow(endpointID int64) bool {
	return m.breakers.Get(endpointID).Allow()
}

// ShouldSwitch reports whether the caller should fail over off
// currentID: true iff the cooldown since the last switch has elapsed
// AND its score has dropped under 50 (or its row no longer exists).
// Updates the cooldown
// clock when returning true, to suppress flapping.
func (m *Manager) ShouldSwitch(ctx context.Context, currentID int64, now time.Time) (bool, error) {
	m.mu.Lock()
	sinceLastSwitch := now.Sub(m.lastSwitchTime)
	m.mu.Unlock()
	if sinceLastSwitch < switchCooldown {
		return false, nil
	}

	score, found, err := m.store.ScoreByID(ctx, currentID)
	if err != nil {
		return false, err
	}
	if !found || score < 50 {
		m.mu.Lock()
		m.lastSwitchTime = now
		m.mu.Unlock()
		return true, nil
	}
	return false, nil
}
