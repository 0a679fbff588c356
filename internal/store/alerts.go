package store

import (
	"context"
	"encoding/json"
)

// Alert is one alerts row.
type Alert struct {
	ID              int64
	Name            string
	Description     string
	AlertType       string
	Conditions      json.RawMessage
	Threshold       float64
	WindowMinutes   int
	CooldownMinutes int
	Severity        string
	IsEnabled       bool
	ContractIDs     []int64
	LastTriggeredAt *int64
}

// AlertEvent is one append-only alert_events row.
type AlertEvent struct {
	AlertID       int64
	TriggeredAt   int64
	Severity      string
	ValueObserved float64
	Threshold     float64
	Context       json.RawMessage
}

// AlertStore implements the alerts / alert_events side of the data
// model.
type AlertStore struct {
	pool Querier
}

func NewAlertStore(pool Querier) *AlertStore {
	return &AlertStore{pool: pool}
}

// ListEnabled returns every is_enabled=true alert.
func (s *AlertStore) ListEnabled(ctx context.Context) ([]Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, alert_type, conditions, threshold, window_minutes,
		       cooldown_minutes, severity, is_enabled, contract_ids, last_triggered_at
		FROM alerts
		WHERE is_enabled = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.AlertType, &a.Conditions, &a.Threshold,
			&a.WindowMinutes, &a.CooldownMinutes, &a.Severity, &a.IsEnabled, &a.ContractIDs, &a.LastTriggeredAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertEvent appends an alert_events row.
func (s *AlertStore) InsertEvent(ctx context.Context, ev AlertEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_events (alert_id, triggered_at, severity, value_observed, threshold, context)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.AlertID, ev.TriggeredAt, ev.Severity, ev.ValueObserved, ev.Threshold, ev.Context)
	return err
}

// UpdateLastTriggered sets alerts.last_triggered_at, starting the
// alert's cooldown.
func (s *AlertStore) UpdateLastTriggered(ctx context.Context, id int64, triggeredAt int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alerts SET last_triggered_at = $2 WHERE id = $1
	`, id, triggeredAt)
	return err
}
