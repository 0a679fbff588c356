package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantle-obs/worker/internal/store"
)

type fakeState struct{ cursorSets []int64 }

func (f *fakeState) SetAlertEvalCursor(ctx context.Context, lastEvalTs int64, now time.Time) error {
	f.cursorSets = append(f.cursorSets, lastEvalTs)
	return nil
}

type fakeTxs struct {
	failed, total int64
}

func (f *fakeTxs) FailureRate(ctx context.Context, windowStart, now int64, contractIDs []int64) (int64, int64, error) {
	return f.failed, f.total, nil
}

type fakeMetrics struct {
	current, baseline       float64
	hasCurrent, hasBaseline bool
}

func (f *fakeMetrics) AvgGasPriceInRange(ctx context.Context, start, end int64) (float64, bool, error) {
	// first call is the current window (start == windowStart), second
	// is the baseline (start < windowStart); distinguish by whether
	// end-start equals the 1-hour baseline span in the test harness.
	if end-start >= 3600 {
		return f.baseline, f.hasBaseline, nil
	}
	return f.current, f.hasCurrent, nil
}

type fakeEndpoints struct{ unhealthy int64 }

func (f *fakeEndpoints) CountUnhealthyActive(ctx context.Context) (int64, error) {
	return f.unhealthy, nil
}

type fakeAlerts struct {
	list            []store.Alert
	events          []store.AlertEvent
	triggeredUpdate []int64
}

func (f *fakeAlerts) ListEnabled(ctx context.Context) ([]store.Alert, error) { return f.list, nil }
func (f *fakeAlerts) InsertEvent(ctx context.Context, ev store.AlertEvent) error {
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeAlerts) UpdateLastTriggered(ctx context.Context, id int64, triggeredAt int64) error {
	f.triggeredUpdate = append(f.triggeredUpdate, id)
	return nil
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestFailureRateTriggersAboveThreshold(t *testing.T) {
	alerts := &fakeAlerts{list: []store.Alert{{
		ID: 1, Name: "fr", AlertType: TypeFailureRate, Threshold: 10,
		WindowMinutes: 5, CooldownMinutes: 10, Severity: "warning", IsEnabled: true,
	}}}
	txs := &fakeTxs{failed: 15, total: 100}
	p := New(&fakeState{}, txs, &fakeMetrics{}, &fakeEndpoints{}, alerts, nil)
	p.now = fixedNow(time.Unix(10_000, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	require.Len(t, alerts.events, 1)
	assert.InDelta(t, 15.0, alerts.events[0].ValueObserved, 0.001)
	assert.Equal(t, []int64{1}, alerts.triggeredUpdate)
}

func TestFailureRateHonorsCooldown(t *testing.T) {
	lastTriggered := int64(9_900)
	alerts := &fakeAlerts{list: []store.Alert{{
		ID: 1, Name: "fr", AlertType: TypeFailureRate, Threshold: 10,
		WindowMinutes: 5, CooldownMinutes: 10, Severity: "warning", IsEnabled: true,
		LastTriggeredAt: &lastTriggered,
	}}}
	txs := &fakeTxs{failed: 15, total: 100}
	p := New(&fakeState{}, txs, &fakeMetrics{}, &fakeEndpoints{}, alerts, nil)
	p.now = fixedNow(time.Unix(10_000, 0)) // 100s later, cooldown 600s

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, alerts.events)
}

func TestFailureRateNoTriggerWhenNoTxs(t *testing.T) {
	alerts := &fakeAlerts{list: []store.Alert{{
		ID: 1, AlertType: TypeFailureRate, Threshold: 10, WindowMinutes: 5, CooldownMinutes: 10, IsEnabled: true,
	}}}
	txs := &fakeTxs{failed: 0, total: 0}
	p := New(&fakeState{}, txs, &fakeMetrics{}, &fakeEndpoints{}, alerts, nil)
	p.now = fixedNow(time.Unix(10_000, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, alerts.events)
}

func TestGasSpikeTriggersOnMultiplier(t *testing.T) {
	alerts := &fakeAlerts{list: []store.Alert{{
		ID: 2, AlertType: TypeGasSpike, Threshold: 2.0, WindowMinutes: 5, CooldownMinutes: 10, IsEnabled: true,
	}}}
	metrics := &fakeMetrics{current: 80, hasCurrent: true, baseline: 20, hasBaseline: true}
	p := New(&fakeState{}, &fakeTxs{}, metrics, &fakeEndpoints{}, alerts, nil)
	p.now = fixedNow(time.Unix(10_000, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	require.Len(t, alerts.events, 1)
	assert.InDelta(t, 4.0, alerts.events[0].ValueObserved, 0.001)
}

func TestGasSpikeNoTriggerWhenBaselineZero(t *testing.T) {
	alerts := &fakeAlerts{list: []store.Alert{{
		ID: 2, AlertType: TypeGasSpike, Threshold: 2.0, WindowMinutes: 5, CooldownMinutes: 10, IsEnabled: true,
	}}}
	metrics := &fakeMetrics{current: 80, hasCurrent: true, baseline: 0, hasBaseline: true}
	p := New(&fakeState{}, &fakeTxs{}, metrics, &fakeEndpoints{}, alerts, nil)
	p.now = fixedNow(time.Unix(10_000, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, alerts.events)
}

func TestProviderDownTriggersAtThreshold(t *testing.T) {
	alerts := &fakeAlerts{list: []store.Alert{{
		ID: 3, AlertType: TypeProviderDown, Threshold: 2, WindowMinutes: 5, CooldownMinutes: 10, IsEnabled: true,
	}}}
	endpoints := &fakeEndpoints{unhealthy: 2}
	p := New(&fakeState{}, &fakeTxs{}, &fakeMetrics{}, endpoints, alerts, nil)
	p.now = fixedNow(time.Unix(10_000, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	require.Len(t, alerts.events, 1)
	assert.InDelta(t, 2.0, alerts.events[0].ValueObserved, 0.001)
}

func TestCustomAlertNeverTriggers(t *testing.T) {
	alerts := &fakeAlerts{list: []store.Alert{{
		ID: 4, AlertType: TypeCustom, Threshold: 1, WindowMinutes: 5, CooldownMinutes: 10, IsEnabled: true,
	}}}
	p := New(&fakeState{}, &fakeTxs{}, &fakeMetrics{}, &fakeEndpoints{}, alerts, nil)
	p.now = fixedNow(time.Unix(10_000, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, alerts.events)
}

func TestRunCycleAdvancesEvalCursorEvenOnIsolatedFailure(t *testing.T) {
	alerts := &fakeAlerts{list: []store.Alert{{
		ID: 5, AlertType: "unrecognized", WindowMinutes: 5, CooldownMinutes: 10, IsEnabled: true,
	}}}
	state := &fakeState{}
	p := New(state, &fakeTxs{}, &fakeMetrics{}, &fakeEndpoints{}, alerts, nil)
	p.now = fixedNow(time.Unix(10_000, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Equal(t, []int64{10_000}, state.cursorSets)
}
