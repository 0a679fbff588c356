// Package alert implements the rule-based alert evaluation pipeline.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	obsmetrics "github.com/mantle-obs/worker/internal/metrics"
	"github.com/mantle-obs/worker/internal/store"
)

// Alert type discriminants.
const (
	TypeFailureRate  = "failure_rate"
	TypeGasSpike     = "gas_spike"
	TypeProviderDown = "provider_down"
	TypeCustom       = "custom"
)

// gasSpikeBaselineWindow is the fixed 1-hour lookback window the
// gas_spike check compares the current window against.
const gasSpikeBaselineWindow = time.Hour

// StateStore is the subset of store.StateStore the alert pipeline
// needs.
type StateStore interface {
	SetAlertEvalCursor(ctx context.Context, lastEvalTs int64, now time.Time) error
}

// TxStore is the subset of store.TxStore the alert pipeline needs.
type TxStore interface {
	FailureRate(ctx context.Context, windowStart, now int64, contractIDs []int64) (failed, total int64, err error)
}

// MetricsStore is the subset of store.MetricsStore the alert pipeline
// needs.
type MetricsStore interface {
	AvgGasPriceInRange(ctx context.Context, start, end int64) (float64, bool, error)
}

// EndpointStore is the subset of store.EndpointStore the alert
// pipeline needs.
type EndpointStore interface {
	CountUnhealthyActive(ctx context.Context) (int64, error)
}

// AlertStore is the subset of store.AlertStore the alert pipeline
// needs.
type AlertStore interface {
	ListEnabled(ctx context.Context) ([]store.Alert, error)
	InsertEvent(ctx context.Context, ev store.AlertEvent) error
	UpdateLastTriggered(ctx context.Context, id int64, triggeredAt int64) error
}

// Pipeline evaluates every enabled alert against recent data once per
// cycle.
type Pipeline struct {
	state     StateStore
	txs       TxStore
	metrics   MetricsStore
	endpoints EndpointStore
	alerts    AlertStore
	logger    *zap.Logger

	now func() time.Time
}

func New(state StateStore, txs TxStore, metrics MetricsStore, endpoints EndpointStore, alerts AlertStore, logger *zap.Logger) *Pipeline {
	return &Pipeline{state: state, txs: txs, metrics: metrics, endpoints: endpoints, alerts: alerts, logger: logger, now: time.Now}
}

// RunCycle evaluates every enabled alert and advances the eval
// cursor. A single alert's evaluation failure is isolated and logged;
// the rest still run.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	now := p.now()

	alerts, err := p.alerts.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("alert: list enabled: %w", err)
	}

	for _, a := range alerts {
		if err := p.evaluate(ctx, a, now); err != nil && p.logger != nil {
			p.logger.Error("alert: evaluation failed", zap.Int64("alert_id", a.ID), zap.String("name", a.Name), zap.Error(err))
		}
	}

	if err := p.state.SetAlertEvalCursor(ctx, now.Unix(), now); err != nil {
		return fmt.Errorf("alert: advance eval cursor: %w", err)
	}
	return nil
}

// evaluate runs the cooldown gate and dispatches by alert_type.
func (p *Pipeline) evaluate(ctx context.Context, a store.Alert, now time.Time) error {
	nowUnix := now.Unix()

	if a.LastTriggeredAt != nil && nowUnix-*a.LastTriggeredAt < int64(a.CooldownMinutes)*60 {
		return nil
	}

	windowStart := nowUnix - int64(a.WindowMinutes)*60

	var (
		triggered bool
		value     float64
		evCtx     map[string]any
	)

	switch a.AlertType {
	case TypeFailureRate:
		failed, total, err := p.txs.FailureRate(ctx, windowStart, nowUnix, a.ContractIDs)
		if err != nil {
			return fmt.Errorf("failure_rate query: %w", err)
		}
		if total == 0 {
			return nil
		}
		value = float64(failed) / float64(total) * 100
		triggered = value > a.Threshold
		evCtx = map[string]any{"window_minutes": a.WindowMinutes}

	case TypeGasSpike:
		currentAvg, hasCurrent, err := p.metrics.AvgGasPriceInRange(ctx, windowStart, nowUnix)
		if err != nil {
			return fmt.Errorf("gas_spike current window query: %w", err)
		}
		baselineAvg, hasBaseline, err := p.metrics.AvgGasPriceInRange(ctx, windowStart-int64(gasSpikeBaselineWindow.Seconds()), windowStart)
		if err != nil {
			return fmt.Errorf("gas_spike baseline window query: %w", err)
		}
		if !hasCurrent || !hasBaseline || baselineAvg == 0 {
			return nil
		}
		value = currentAvg / baselineAvg
		triggered = value > a.Threshold
		evCtx = map[string]any{"baseline_window": "1 hour", "check_time": nowUnix}

	case TypeProviderDown:
		count, err := p.endpoints.CountUnhealthyActive(ctx)
		if err != nil {
			return fmt.Errorf("provider_down query: %w", err)
		}
		value = float64(count)
		triggered = value >= a.Threshold
		evCtx = map[string]any{"check_time": nowUnix}

	case TypeCustom:
		// Reserved: conditions are carried opaquely; the evaluator
		// never triggers a custom alert.
		return nil

	default:
		return fmt.Errorf("unknown alert_type %q", a.AlertType)
	}

	if !triggered {
		return nil
	}

	encodedContext, err := json.Marshal(evCtx)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	if err := p.alerts.InsertEvent(ctx, store.AlertEvent{
		AlertID:       a.ID,
		TriggeredAt:   nowUnix,
		Severity:      a.Severity,
		ValueObserved: value,
		Threshold:     a.Threshold,
		Context:       encodedContext,
	}); err != nil {
		return fmt.Errorf("insert alert_event: %w", err)
	}

	if err := p.alerts.UpdateLastTriggered(ctx, a.ID, nowUnix); err != nil {
		return fmt.Errorf("update last_triggered_at: %w", err)
	}
	obsmetrics.AlertsTriggered.WithLabelValues(a.Name).Inc()

	if p.logger != nil {
		p.logger.Warn("alert: triggered",
			zap.Int64("alert_id", a.ID),
			zap.String("name", a.Name),
			zap.Float64("value_observed", value),
			zap.Float64("threshold", a.Threshold))
	}
	return nil
}
