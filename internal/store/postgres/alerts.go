package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"livermore/internal/model"
)

// InsertAlert appends one alert row. The insert is idempotent: a duplicate of
// (exchange_id, symbol, timeframe, alert_type, triggered_at_epoch) is ignored
// so no alert is ever fired twice. Returns the row id, or 0 when the row was
// a duplicate.
func (db *DB) InsertAlert(ctx context.Context, a *model.Alert) (int64, error) {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return 0, fmt.Errorf("marshal alert details: %w", err)
	}

	var id int64
	err = db.pool.QueryRow(ctx,
		`INSERT INTO alert_history
		        (exchange_id, symbol, timeframe, alert_type, triggered_at,
		         triggered_at_epoch, price, trigger_value, trigger_label,
		         previous_label, details, notification_sent, notification_error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT (exchange_id, symbol, timeframe, alert_type, triggered_at_epoch)
		 DO NOTHING
		 RETURNING id`,
		a.ExchangeID, a.Symbol, string(a.Timeframe), a.AlertType, a.TriggeredAt,
		a.TriggeredAtEpoch, a.Price, a.TriggerValue, a.TriggerLabel,
		a.PreviousLabel, details, a.NotificationSent, a.NotificationErr).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil // duplicate, suppressed by ON CONFLICT
		}
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return id, nil
}

// MarkAlertNotified records the outcome of the fire-and-forget dispatch.
func (db *DB) MarkAlertNotified(ctx context.Context, id int64, sent bool, notifyErr string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE alert_history SET notification_sent = $2, notification_error = $3 WHERE id = $1`,
		id, sent, notifyErr)
	if err != nil {
		return fmt.Errorf("mark alert notified: %w", err)
	}
	return nil
}

// AlertFilter narrows ListAlerts. Zero values mean "no filter".
// AlertTypePrefix matches the indicator family: every rule for one indicator
// stores alert_type as "<indicator>_<rule>".
type AlertFilter struct {
	AlertTypePrefix string
	Exchange        string
	Symbol          string
	Timeframe       string
}

// AlertRow is the explicit column whitelist read for the public /alerts
// endpoint. Internal-only columns (details, notification state) are never
// selected on this path.
type AlertRow struct {
	ID            int64
	ExchangeName  string
	Symbol        string
	Timeframe     string
	TriggeredAt   string
	Price         float64
	TriggerValue  float64
	TriggerLabel  string
	PreviousLabel string
}

// ListAlerts returns up to limit rows with id < beforeID, newest first.
// Descending id is the pagination cursor: unlike timestamps it never collides.
// beforeID <= 0 means "from the newest row".
func (db *DB) ListAlerts(ctx context.Context, f AlertFilter, beforeID int64, limit int) ([]AlertRow, error) {
	if beforeID <= 0 {
		beforeID = int64(1) << 62
	}
	rows, err := db.pool.Query(ctx,
		`SELECT a.id, e.name, a.symbol, a.timeframe,
		        to_char(a.triggered_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'),
		        a.price, a.trigger_value, a.trigger_label, a.previous_label
		   FROM alert_history a
		   JOIN exchanges e ON e.id = a.exchange_id
		  WHERE a.id < $1
		    AND ($2 = '' OR a.alert_type LIKE $2 || '%')
		    AND ($3 = '' OR e.name = $3)
		    AND ($4 = '' OR a.symbol = $4)
		    AND ($5 = '' OR a.timeframe = $5)
		  ORDER BY a.id DESC
		  LIMIT $6`,
		beforeID, f.AlertTypePrefix, f.Exchange, f.Symbol, f.Timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("query alert_history: %w", err)
	}
	defer rows.Close()

	var out []AlertRow
	for rows.Next() {
		var r AlertRow
		if err := rows.Scan(&r.ID, &r.ExchangeName, &r.Symbol, &r.Timeframe,
			&r.TriggeredAt, &r.Price, &r.TriggerValue, &r.TriggerLabel, &r.PreviousLabel); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
