package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle represents one OHLCV observation for a single (exchange, symbol,
// timeframe). TimestampMS is the candle open time (UTC epoch ms) aligned to
// the timeframe grid. SequenceNum arbitrates concurrent writes at the same
// timestamp: the member with the highest sequence wins. Sources without a
// native event sequence use the open time itself.
type Candle struct {
	ExchangeID  int       `json:"exchange_id"`
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	TimestampMS int64     `json:"timestamp_ms"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	SequenceNum int64     `json:"sequence_num"`
	Closed      bool      `json:"closed"`
}

// Key returns "exchange_id:symbol:timeframe", the identity of the candle series.
func (c *Candle) Key() string {
	return strconv.Itoa(c.ExchangeID) + ":" + c.Symbol + ":" + string(c.Timeframe)
}

// OpenTime returns the candle open time as a time.Time in UTC.
func (c *Candle) OpenTime() time.Time {
	return time.UnixMilli(c.TimestampMS).UTC()
}

// Age returns how far behind now the candle's open time is.
func (c *Candle) Age(now time.Time) time.Duration {
	return now.Sub(c.OpenTime())
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Ticker is the last-trade snapshot for one (exchange, symbol).
// Overwritten in place; no history is kept.
type Ticker struct {
	ExchangeID int       `json:"exchange_id"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume24h  float64   `json:"volume_24h"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JSON returns the JSON-encoded ticker.
func (t *Ticker) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
