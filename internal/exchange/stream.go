package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// idleTimeout is the WebSocket read deadline; a silent connection past this
// is torn down and redialed.
const idleTimeout = 90 * time.Second

// connState is the adapter connection lifecycle.
type connState int

const (
	connDisconnected connState = iota
	connConnecting
	connConnected
	connDisconnecting
)

// pair is one (symbol, timeframe) subscription.
type pair struct {
	symbol string
	tf     model.Timeframe
}

// wire is the exchange-specific protocol behind a streamer: how to dial,
// subscribe, and translate frames. Everything else is shared.
type wire interface {
	name() string
	wsURL() string

	// subscribeFrames returns the JSON-encodable frames that assert the
	// given subscription set on a fresh connection.
	subscribeFrames(pairs []pair) []any
	unsubscribeFrames(pairs []pair) []any

	// parse translates one raw frame into zero or more events. Control
	// frames return an empty slice.
	parse(raw []byte) ([]Event, error)

	// candlesPath builds the REST request for the last limit closed candles.
	candlesPath(symbol string, tf model.Timeframe, limit int) (string, map[string]string)
	parseCandles(body []byte, symbol string, tf model.Timeframe) ([]model.Candle, error)
}

// closeMark records the last emitted close per series for exactly-once
// emission per (symbol, timeframe, timestamp).
type closeMark struct {
	ts  int64
	seq int64
}

// streamer owns the connection lifecycle shared by every adapter variant:
// dial, exponential backoff reconnect, subscription re-assertion, idle
// timeout, and close-event dedup. A single read loop makes emissions
// single-producer ordered per pair.
type streamer struct {
	w       wire
	backoff Backoff

	mu     sync.Mutex
	subs   map[pair]struct{}
	conn   *websocket.Conn
	state  connState
	cancel context.CancelFunc

	events    chan Event
	lastClose map[string]closeMark
}

func newStreamer(w wire) *streamer {
	return &streamer{
		w:         w,
		backoff:   DefaultBackoff,
		subs:      make(map[pair]struct{}),
		events:    make(chan Event, 1024),
		lastClose: make(map[string]closeMark),
	}
}

// Events returns the emission channel.
func (s *streamer) Events() <-chan Event { return s.events }

// IsConnected reports whether the transport is currently up.
func (s *streamer) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == connConnected
}

// Connect starts the lifecycle loop. Non-blocking.
func (s *streamer) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != connDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("%s: already connected or connecting", s.w.name())
	}
	s.state = connConnecting
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Disconnect cancels the lifecycle and closes the transport.
func (s *streamer) Disconnect() error {
	s.mu.Lock()
	if s.state == connDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = connDisconnecting
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	return nil
}

// Subscribe adds pairs to the subscription set and, when connected, asserts
// them immediately. Idempotent.
func (s *streamer) Subscribe(ctx context.Context, symbols []string, tfs []model.Timeframe) error {
	var added []pair
	s.mu.Lock()
	for _, sym := range symbols {
		for _, tf := range tfs {
			p := pair{symbol: sym, tf: tf}
			if _, ok := s.subs[p]; !ok {
				s.subs[p] = struct{}{}
				added = append(added, p)
			}
		}
	}
	conn := s.conn
	connected := s.state == connConnected
	s.mu.Unlock()

	if connected && len(added) > 0 {
		return s.sendFrames(conn, s.w.subscribeFrames(added))
	}
	return nil
}

// Unsubscribe removes symbols across all timeframes; unknown members no-op.
func (s *streamer) Unsubscribe(ctx context.Context, symbols []string) error {
	drop := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		drop[sym] = struct{}{}
	}

	var removed []pair
	s.mu.Lock()
	for p := range s.subs {
		if _, ok := drop[p.symbol]; ok {
			delete(s.subs, p)
			removed = append(removed, p)
		}
	}
	conn := s.conn
	connected := s.state == connConnected
	s.mu.Unlock()

	if connected && len(removed) > 0 {
		return s.sendFrames(conn, s.w.unsubscribeFrames(removed))
	}
	return nil
}

// run is the lifecycle loop: dial, resubscribe, read until failure, back off,
// repeat. Retries indefinitely for transient errors; auth and geo failures
// end the loop.
func (s *streamer) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			s.finish(nil)
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
		conn, resp, err := dialer.DialContext(ctx, s.w.wsURL(), nil)
		if err != nil {
			if resp != nil {
				kind := classifyStatus(resp.StatusCode)
				if kind == KindAuth || kind == KindGeoRestricted {
					s.finish(&APIError{Kind: kind, Status: resp.StatusCode, Op: s.w.name() + " ws dial", Cause: err})
					return
				}
			}
			s.emit(ctx, Event{Type: EventReconnecting, Attempt: attempt, Err: err})
			if !s.sleep(ctx, attempt) {
				s.finish(nil)
				return
			}
			attempt++
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.state = connConnected
		subs := make([]pair, 0, len(s.subs))
		for p := range s.subs {
			subs = append(subs, p)
		}
		s.mu.Unlock()

		// Re-assert the subscription set before any events are re-emitted.
		if len(subs) > 0 {
			if err := s.sendFrames(conn, s.w.subscribeFrames(subs)); err != nil {
				log.Warn().Str("component", "exchange").Str("exchange", s.w.name()).
					Err(err).Msg("resubscribe failed, redialing")
				conn.Close()
				attempt++
				continue
			}
		}

		attempt = 0
		s.emit(ctx, Event{Type: EventConnected})
		log.Info().Str("component", "exchange").Str("exchange", s.w.name()).
			Int("pairs", len(subs)).Msg("websocket connected")

		err = s.readLoop(ctx, conn)
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		stopping := s.state == connDisconnecting
		if !stopping {
			s.state = connConnecting
		}
		s.mu.Unlock()

		if ctx.Err() != nil || stopping {
			s.finish(nil)
			return
		}
		if apiErr, ok := AsAPIError(err); ok && (apiErr.Kind == KindAuth || apiErr.Fatal()) {
			s.finish(apiErr)
			return
		}

		s.emit(ctx, Event{Type: EventReconnecting, Attempt: attempt, Err: err})
		if !s.sleep(ctx, attempt) {
			s.finish(nil)
			return
		}
		attempt++
	}
}

// readLoop pumps frames until the transport fails or goes idle.
func (s *streamer) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%s read: %w", s.w.name(), err)
		}

		events, err := s.w.parse(raw)
		if err != nil {
			log.Warn().Str("component", "exchange").Str("exchange", s.w.name()).
				Err(err).Msg("unparseable frame")
			continue
		}
		for _, ev := range events {
			s.deliver(ctx, ev)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// deliver applies the boundary emission rule before forwarding candle events:
// one close per (symbol, timeframe, timestamp); a higher-sequence repeat
// becomes an update; lower sequences are dropped.
func (s *streamer) deliver(ctx context.Context, ev Event) {
	if ev.Candle == nil || !ev.Candle.Closed {
		s.emit(ctx, ev)
		return
	}

	c := ev.Candle
	key := c.Key()
	s.mu.Lock()
	mark, seen := s.lastClose[key]
	switch {
	case !seen || c.TimestampMS > mark.ts:
		s.lastClose[key] = closeMark{ts: c.TimestampMS, seq: c.SequenceNum}
		s.mu.Unlock()
		ev.Type = EventCandleClose
		s.emit(ctx, ev)
	case c.TimestampMS == mark.ts && c.SequenceNum > mark.seq:
		s.lastClose[key] = closeMark{ts: c.TimestampMS, seq: c.SequenceNum}
		s.mu.Unlock()
		ev.Type = EventCandleUpdate
		s.emit(ctx, ev)
	default:
		s.mu.Unlock()
	}
}

func (s *streamer) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// sleep waits one backoff step; returns false if ctx ended first.
func (s *streamer) sleep(ctx context.Context, attempt int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.backoff.Next(attempt)):
		return true
	}
}

// finish moves to disconnected and reports the terminal error, if any.
func (s *streamer) finish(fatal *APIError) {
	s.mu.Lock()
	s.state = connDisconnected
	s.conn = nil
	s.mu.Unlock()

	if fatal != nil {
		select {
		case s.events <- Event{Type: EventError, Err: fatal}:
		default:
		}
	}
	select {
	case s.events <- Event{Type: EventDisconnected}:
	default:
	}
}

func (s *streamer) sendFrames(conn *websocket.Conn, frames []any) error {
	if conn == nil {
		return nil
	}
	for _, frame := range frames {
		if err := conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("%s write frame: %w", s.w.name(), err)
		}
	}
	return nil
}
