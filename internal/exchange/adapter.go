// Package exchange presents a single typed interface to the rest of the
// instance regardless of which exchange it speaks to. Variants differ only in
// REST/WebSocket wire details; connection lifecycle, reconnect policy and
// event ordering live in the shared streamer.
package exchange

import (
	"context"

	"livermore/internal/model"
)

// EventType tags the variants carried on the adapter event channel.
type EventType int

const (
	EventCandleClose EventType = iota
	EventCandleUpdate
	EventTicker
	EventConnected
	EventDisconnected
	EventError
	EventReconnecting
)

func (t EventType) String() string {
	switch t {
	case EventCandleClose:
		return "candle:close"
	case EventCandleUpdate:
		return "candle:update"
	case EventTicker:
		return "ticker:update"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Event is one tagged-variant adapter emission. Exactly one payload field is
// set depending on Type. Emissions are single-producer ordered per
// (symbol, timeframe).
type Event struct {
	Type    EventType
	Candle  *model.Candle
	Ticker  *model.Ticker
	Err     error
	Attempt int // reconnect attempt, for EventReconnecting
}

// Adapter is the capability set every exchange variant provides.
type Adapter interface {
	// Name returns the exchange's canonical name, e.g. "coinbase".
	Name() string

	// Connect starts the connection lifecycle. Non-blocking; progress is
	// reported as connected/reconnecting/error events. Reconnects retry
	// indefinitely with exponential backoff until ctx is cancelled.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down and stops the lifecycle.
	Disconnect() error

	// Subscribe adds pairs to the subscription set. Idempotent; the set is
	// re-asserted after every reconnect before events resume.
	Subscribe(ctx context.Context, symbols []string, tfs []model.Timeframe) error

	// Unsubscribe removes symbols from the set; unknown members are a no-op.
	Unsubscribe(ctx context.Context, symbols []string) error

	// IsConnected reports the live connection state.
	IsConnected() bool

	// Events returns the adapter's emission channel.
	Events() <-chan Event

	// FetchCandles REST-fetches the most recent limit closed candles.
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}
