package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"livermore/internal/model"
)

// binanceWire speaks the Binance kline/ticker stream protocol and the
// /api/v3/klines REST endpoint. binance and binance_us share the wire; their
// URLs differ per the exchanges row. Canonical "BTC-USD" symbols map to
// dash-stripped wire symbols ("BTCUSD"/"BTCUSDT" as listed by the venue).
type binanceWire struct {
	exchangeID int
	venueName  string
	ws         string

	nextID int64

	mu        sync.RWMutex
	canonical map[string]string // wire symbol (upper) -> canonical symbol
}

func newBinance(ex *model.Exchange) Adapter {
	w := &binanceWire{
		exchangeID: ex.ID,
		venueName:  strings.ToLower(ex.Name),
		ws:         ex.WSURL,
		canonical:  make(map[string]string),
	}
	return newVenue(w, ex.RESTURL, 10)
}

func (w *binanceWire) name() string  { return w.venueName }
func (w *binanceWire) wsURL() string { return w.ws }

func (w *binanceWire) wireSymbol(canonical string) string {
	wireSym := strings.ReplaceAll(canonical, "-", "")
	w.mu.Lock()
	w.canonical[strings.ToUpper(wireSym)] = canonical
	w.mu.Unlock()
	return wireSym
}

func (w *binanceWire) canonicalSymbol(wireSym string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if c, ok := w.canonical[strings.ToUpper(wireSym)]; ok {
		return c
	}
	return wireSym
}

type binanceRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (w *binanceWire) streams(pairs []pair) []string {
	var params []string
	seen := make(map[string]struct{})
	for _, p := range pairs {
		sym := strings.ToLower(w.wireSymbol(p.symbol))
		kline := sym + "@kline_" + string(p.tf)
		if _, ok := seen[kline]; !ok {
			seen[kline] = struct{}{}
			params = append(params, kline)
		}
		ticker := sym + "@ticker"
		if _, ok := seen[ticker]; !ok {
			seen[ticker] = struct{}{}
			params = append(params, ticker)
		}
	}
	return params
}

func (w *binanceWire) subscribeFrames(pairs []pair) []any {
	return []any{binanceRequest{
		Method: "SUBSCRIBE",
		Params: w.streams(pairs),
		ID:     atomic.AddInt64(&w.nextID, 1),
	}}
}

func (w *binanceWire) unsubscribeFrames(pairs []pair) []any {
	return []any{binanceRequest{
		Method: "UNSUBSCRIBE",
		Params: w.streams(pairs),
		ID:     atomic.AddInt64(&w.nextID, 1),
	}}
}

type binanceEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartMS  int64  `json:"t"`
		Symbol   string `json:"s"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		IsClosed bool   `json:"x"`
	} `json:"k"`
	LastPrice string `json:"c"`
	Volume24h string `json:"v"`
}

func (w *binanceWire) parse(raw []byte) ([]Event, error) {
	var ev binanceEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("binance frame: %w", err)
	}

	switch ev.Event {
	case "kline":
		tf := model.Timeframe(ev.Kline.Interval)
		if !tf.Valid() {
			return nil, nil
		}
		c := model.Candle{
			ExchangeID:  w.exchangeID,
			Symbol:      w.canonicalSymbol(ev.Kline.Symbol),
			Timeframe:   tf,
			TimestampMS: ev.Kline.StartMS,
			Open:        parseFloat(ev.Kline.Open),
			High:        parseFloat(ev.Kline.High),
			Low:         parseFloat(ev.Kline.Low),
			Close:       parseFloat(ev.Kline.Close),
			Volume:      parseFloat(ev.Kline.Volume),
			SequenceNum: ev.EventTime,
			Closed:      ev.Kline.IsClosed,
		}
		t := EventCandleUpdate
		if c.Closed {
			t = EventCandleClose
		}
		return []Event{{Type: t, Candle: &c}}, nil

	case "24hrTicker":
		t := model.Ticker{
			ExchangeID: w.exchangeID,
			Symbol:     w.canonicalSymbol(ev.Symbol),
			Price:      parseFloat(ev.LastPrice),
			Volume24h:  parseFloat(ev.Volume24h),
			UpdatedAt:  time.Now().UTC(),
		}
		return []Event{{Type: EventTicker, Ticker: &t}}, nil
	}
	return nil, nil
}

func (w *binanceWire) candlesPath(symbol string, tf model.Timeframe, limit int) (string, map[string]string) {
	return "/api/v3/klines", map[string]string{
		"symbol":   strings.ToUpper(w.wireSymbol(symbol)),
		"interval": string(tf),
		"limit":    fmt.Sprintf("%d", limit+1), // last row may be forming
	}
}

// parseCandles decodes the klines array-of-arrays response. The final row is
// the forming candle and is dropped; the endpoint contract is closed candles.
func (w *binanceWire) parseCandles(body []byte, symbol string, tf model.Timeframe) ([]model.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	now := time.Now().UnixMilli()

	out := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		var openMS, closeMS int64
		var o, h, l, c, v string
		if err := json.Unmarshal(row[0], &openMS); err != nil {
			continue
		}
		json.Unmarshal(row[1], &o)
		json.Unmarshal(row[2], &h)
		json.Unmarshal(row[3], &l)
		json.Unmarshal(row[4], &c)
		json.Unmarshal(row[5], &v)
		json.Unmarshal(row[6], &closeMS)
		if closeMS >= now {
			continue // forming
		}
		out = append(out, model.Candle{
			ExchangeID:  w.exchangeID,
			Symbol:      symbol,
			Timeframe:   tf,
			TimestampMS: openMS,
			Open:        parseFloat(o),
			High:        parseFloat(h),
			Low:         parseFloat(l),
			Close:       parseFloat(c),
			Volume:      parseFloat(v),
			SequenceNum: openMS,
			Closed:      true,
		})
	}
	return out, nil
}
