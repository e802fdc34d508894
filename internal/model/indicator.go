package model

import (
	"encoding/json"
	"time"
)

// IndicatorParams carries the calculation metadata attached to every derived
// value. The schema is an explicit cross-language contract with the UI; do not
// collapse it into a generic map.
type IndicatorParams struct {
	Stage  string `json:"stage"`
	Seeded bool   `json:"seeded"`
	NEff   int    `json:"n_eff"`
}

// IndicatorValue is the latest derived value for one
// (exchange, symbol, timeframe, type). The cache keeps only the most recent
// value per key; it is recomputed only from candles at or before TimestampMS.
type IndicatorValue struct {
	ExchangeID  int                `json:"exchange_id"`
	Symbol      string             `json:"symbol"`
	Timeframe   Timeframe          `json:"timeframe"`
	Type        string             `json:"type"`
	TimestampMS int64              `json:"timestamp_ms"`
	Value       map[string]float64 `json:"value"`
	Params      IndicatorParams    `json:"params"`
}

// JSON returns the JSON-encoded indicator value.
func (v *IndicatorValue) JSON() []byte {
	b, _ := json.Marshal(v)
	return b
}

// PairKey returns "symbol:timeframe", used by schedulers to coalesce work.
func (v *IndicatorValue) PairKey() string {
	return v.Symbol + ":" + string(v.Timeframe)
}

// Alert is one triggering event, appended to Postgres alert_history.
// The public API exposes only a whitelisted, genericised projection.
type Alert struct {
	ID               int64          `json:"id"`
	ExchangeID       int            `json:"exchange_id"`
	Symbol           string         `json:"symbol"`
	Timeframe        Timeframe      `json:"timeframe"`
	AlertType        string         `json:"alert_type"`
	TriggeredAt      time.Time      `json:"triggered_at"`
	TriggeredAtEpoch int64          `json:"triggered_at_epoch"`
	Price            float64        `json:"price"`
	TriggerValue     float64        `json:"trigger_value"`
	TriggerLabel     string         `json:"trigger_label"`
	PreviousLabel    string         `json:"previous_label"`
	Details          map[string]any `json:"details,omitempty"`
	NotificationSent bool           `json:"notification_sent"`
	NotificationErr  string         `json:"notification_error,omitempty"`
}

// BusAlert is the alert shape published on the cross-exchange alert channel.
// Source fields let subscribers on other exchanges attribute the origin.
type BusAlert struct {
	Alert
	SourceExchangeID   int    `json:"source_exchange_id"`
	SourceExchangeName string `json:"source_exchange_name"`
}

// JSON returns the JSON-encoded bus alert.
func (a *BusAlert) JSON() []byte {
	b, _ := json.Marshal(a)
	return b
}
