package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEnabledDecodesAlerts(t *testing.T) {
	conditions := json.RawMessage(`{}`)
	pool := &fakePool{
		queryFn: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{rows: [][]any{
				{int64(1), "high failure rate", "desc", "failure_rate", conditions, 10.0, 5, 15, "warning", true, []int64{1, 2}, (*int64)(nil)},
			}}, nil
		},
	}
	s := NewAlertStore(pool)

	alerts, err := s.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "failure_rate", alerts[0].AlertType)
	assert.Equal(t, 10.0, alerts[0].Threshold)
	assert.Nil(t, alerts[0].LastTriggeredAt)
}

func TestInsertEventPassesFields(t *testing.T) {
	var gotArgs []any
	pool := &fakePool{
		execFn: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			gotArgs = args
			return CommandTag{}, nil
		},
	}
	s := NewAlertStore(pool)

	err := s.InsertEvent(context.Background(), AlertEvent{
		AlertID: 1, TriggeredAt: 1000, Severity: "warning", ValueObserved: 15.0, Threshold: 10.0,
		Context: json.RawMessage(`{"window_minutes":5}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), gotArgs[0])
	assert.Equal(t, 15.0, gotArgs[3])
}

func TestUpdateLastTriggered(t *testing.T) {
	var gotArgs []any
	pool := &fakePool{
		execFn: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			gotArgs = args
			return CommandTag{}, nil
		},
	}
	s := NewAlertStore(pool)

	err := s.UpdateLastTriggered(context.Background(), 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gotArgs[0])
	assert.Equal(t, int64(1000), gotArgs[1])
}
