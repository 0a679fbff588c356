package provider

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes one endpoint's breaker.
type BreakerConfig struct {
	MaxFailures      int
	ResetTimeout     time.Duration
	SuccessThreshold int
}

func defaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second, SuccessThreshold: 2}
}

// Breaker is a per-endpoint Closed/Open/HalfOpen state machine guarding
// RPC calls between probe cycles. Allow holds one lock for its whole
// body; the Open to HalfOpen transition happens under that same lock.
type Breaker struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastStateChange time.Time
}

// NewBreaker builds a Closed breaker for one endpoint.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg = defaultBreakerConfig()
	}
	return &Breaker{cfg: cfg, logger: logger, state: StateClosed, lastStateChange: time.Now()}
}

// Allow reports whether a call may proceed, opportunistically
// transitioning Open→HalfOpen once the reset timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastStateChange) > b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure counter in Closed, and counts
// towards closing again in HalfOpen.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure trips the breaker open from Closed past the failure
// threshold, or immediately from HalfOpen.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// State returns the current state (test/diagnostic use).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastStateChange = time.Now()
	b.failures = 0
	b.successes = 0
	if b.logger != nil {
		b.logger.Info("provider breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
}

// Breakers is a concurrency-safe registry of one Breaker per endpoint
// id, lazily created. Multiple pipelines read it concurrently; new
// entries are write-once per id.
type Breakers struct {
	mu         sync.Mutex
	cfg        BreakerConfig
	logger     *zap.Logger
	byEndpoint map[int64]*Breaker
}

func NewBreakers(cfg BreakerConfig, logger *zap.Logger) *Breakers {
	if cfg.MaxFailures <= 0 {
		cfg = defaultBreakerConfig()
	}
	return &Breakers{cfg: cfg, logger: logger, byEndpoint: make(map[int64]*Breaker)}
}

// Get returns (creating if needed) the breaker for an endpoint id.
func (b *Breakers) Get(endpointID int64) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.byEndpoint[endpointID]; ok {
		return br
	}
	br := NewBreaker(b.cfg, b.logger)
	b.byEndpoint[endpointID] = br
	return br
}
