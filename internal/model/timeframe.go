package model

import (
	"fmt"
	"time"
)

// Timeframe is a candle interval identifier, e.g. "5m" or "1d".
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// AllTimeframes lists every supported timeframe in ascending duration order.
var AllTimeframes = []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF1d}

// ScanOrder is the tiered-scan order: coarse timeframes first, so a failed
// sentinel on a slow timeframe short-circuits the most per-symbol queries.
var ScanOrder = []Timeframe{TF1d, TF4h, TF1h, TF30m, TF15m, TF5m, TF1m}

var tfDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// Duration returns the wall-clock length of one candle of this timeframe.
// Unknown timeframes return 0.
func (tf Timeframe) Duration() time.Duration {
	return tfDurations[tf]
}

// Millis returns the timeframe length in milliseconds.
func (tf Timeframe) Millis() int64 {
	return tfDurations[tf].Milliseconds()
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := tfDurations[tf]
	return ok
}

// ParseTimeframe validates a timeframe string from an API path or command payload.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// AlignMillis truncates an epoch-ms timestamp onto this timeframe's grid.
func (tf Timeframe) AlignMillis(ms int64) int64 {
	step := tf.Millis()
	if step <= 0 {
		return ms
	}
	return ms - ms%step
}

// NextBoundary returns the first instant strictly after now at which a candle
// of this timeframe closes.
func (tf Timeframe) NextBoundary(now time.Time) time.Time {
	d := tf.Duration()
	if d <= 0 {
		return now
	}
	return now.Truncate(d).Add(d)
}
