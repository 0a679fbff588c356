package rollup

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantle-obs/worker/internal/store"
)

type fakeState struct {
	cursor store.RollupCursor
	sets   []int64
}

func (f *fakeState) GetRollupCursor(ctx context.Context) (store.RollupCursor, error) {
	return f.cursor, nil
}

func (f *fakeState) SetRollupCursor(ctx context.Context, lastBucketTs int64, now time.Time) error {
	f.cursor = store.RollupCursor{LastBucketTs: lastBucketTs}
	f.sets = append(f.sets, lastBucketTs)
	return nil
}

type fakeTxs struct {
	count int64
	agg   store.WindowAggregate
	top   []store.TopError
}

func (f *fakeTxs) CountInRange(ctx context.Context, start, end int64) (int64, error) {
	return f.count, nil
}
func (f *fakeTxs) AggregateRange(ctx context.Context, start, end int64) (store.WindowAggregate, error) {
	return f.agg, nil
}
func (f *fakeTxs) TopErrors(ctx context.Context, start, end int64) ([]store.TopError, error) {
	return f.top, nil
}

type fakeMetrics struct {
	upserted []store.MetricsMinute
}

func (f *fakeMetrics) Upsert(ctx context.Context, m store.MetricsMinute) error {
	f.upserted = append(f.upserted, m)
	return nil
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRunCycleSkipsUnfinishedOrAlreadyAdvancedBucket(t *testing.T) {
	// now=125 => current_bucket=120, target=60. cursor already at 60: no-op.
	state := &fakeState{cursor: store.RollupCursor{LastBucketTs: 60}}
	txs := &fakeTxs{}
	metrics := &fakeMetrics{}
	p := New(state, txs, metrics, nil)
	p.now = fixedNow(time.Unix(125, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, metrics.upserted)
	assert.Empty(t, state.sets)
}

func TestRunCycleAdvancesCursorOnEmptyBucketWithoutWritingMetrics(t *testing.T) {
	state := &fakeState{cursor: store.RollupCursor{LastBucketTs: 0}}
	txs := &fakeTxs{count: 0}
	metrics := &fakeMetrics{}
	p := New(state, txs, metrics, nil)
	p.now = fixedNow(time.Unix(125, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	assert.Empty(t, metrics.upserted)
	require.Len(t, state.sets, 1)
	assert.Equal(t, int64(60), state.sets[0])
}

func TestRunCycleWritesBucketAndAdvances(t *testing.T) {
	state := &fakeState{cursor: store.RollupCursor{LastBucketTs: 0}}
	txs := &fakeTxs{
		count: 5,
		agg: store.WindowAggregate{
			TxCount: 5, TxFailedCount: 1, GasUsedTotal: big.NewInt(1000),
			GasPriceAvg: 42, BlockCount: 3, UniqueSenders: 4,
		},
		top: []store.TopError{{Signature: "0x08c379a0", Decoded: "insufficient balance", Count: 1}},
	}
	metrics := &fakeMetrics{}
	p := New(state, txs, metrics, nil)
	p.now = fixedNow(time.Unix(125, 0))

	require.NoError(t, p.RunCycle(context.Background()))
	require.Len(t, metrics.upserted, 1)
	m := metrics.upserted[0]
	assert.Equal(t, int64(60), m.BucketTs)
	assert.Equal(t, int64(5), m.TxCount)
	assert.Equal(t, int64(1), m.TxFailedCount)
	require.Len(t, m.TopErrors, 1)
	assert.Equal(t, "insufficient balance", m.TopErrors[0].Name)
	assert.Equal(t, []int64{60}, state.sets)
}

func TestCurrentBucketTsAligns(t *testing.T) {
	assert.Equal(t, int64(0), currentBucketTs(time.Unix(59, 0)))
	assert.Equal(t, int64(60), currentBucketTs(time.Unix(60, 0)))
	assert.Equal(t, int64(120), currentBucketTs(time.Unix(179, 0)))
}
