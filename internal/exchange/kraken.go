package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"livermore/internal/model"
)

// krakenWire speaks the Kraken v1 WebSocket (ohlc + ticker subscriptions,
// array-framed payloads) and the /0/public/OHLC REST endpoint. Canonical
// "BTC-USD" maps to kraken's "BTC/USD" pair form.
type krakenWire struct {
	exchangeID int
	ws         string
	tracker    *bucketTracker
}

func newKraken(ex *model.Exchange) Adapter {
	w := &krakenWire{
		exchangeID: ex.ID,
		ws:         ex.WSURL,
		tracker:    newBucketTracker(),
	}
	return newVenue(w, ex.RESTURL, 4)
}

func (w *krakenWire) name() string  { return "kraken" }
func (w *krakenWire) wsURL() string { return w.ws }

func krakenPair(canonical string) string {
	return strings.ReplaceAll(canonical, "-", "/")
}

func canonicalFromKraken(pairName string) string {
	return strings.ReplaceAll(pairName, "/", "-")
}

// krakenIntervals maps timeframes to kraken interval minutes.
var krakenIntervals = map[model.Timeframe]int{
	model.TF1m: 1, model.TF5m: 5, model.TF15m: 15, model.TF30m: 30,
	model.TF1h: 60, model.TF4h: 240, model.TF1d: 1440,
}

type krakenSubscribe struct {
	Event        string         `json:"event"`
	Pair         []string       `json:"pair"`
	Subscription map[string]any `json:"subscription"`
}

func (w *krakenWire) subscribeFrames(pairs []pair) []any {
	frames := make([]any, 0, len(pairs)+1)
	byInterval := make(map[int][]string)
	var tickerPairs []string
	seenTicker := make(map[string]struct{})
	for _, p := range pairs {
		iv := krakenIntervals[p.tf]
		if iv > 0 {
			byInterval[iv] = append(byInterval[iv], krakenPair(p.symbol))
		}
		kp := krakenPair(p.symbol)
		if _, ok := seenTicker[kp]; !ok {
			seenTicker[kp] = struct{}{}
			tickerPairs = append(tickerPairs, kp)
		}
	}
	for iv, ps := range byInterval {
		frames = append(frames, krakenSubscribe{
			Event: "subscribe", Pair: ps,
			Subscription: map[string]any{"name": "ohlc", "interval": iv},
		})
	}
	frames = append(frames, krakenSubscribe{
		Event: "subscribe", Pair: tickerPairs,
		Subscription: map[string]any{"name": "ticker"},
	})
	return frames
}

func (w *krakenWire) unsubscribeFrames(pairs []pair) []any {
	frames := w.subscribeFrames(pairs)
	for i, f := range frames {
		sub := f.(krakenSubscribe)
		sub.Event = "unsubscribe"
		frames[i] = sub
	}
	return frames
}

// parse handles kraken's array frames: [channelID, payload, channelName, pair].
// Object frames (heartbeat, subscriptionStatus) carry no market data.
func (w *krakenWire) parse(raw []byte) ([]Event, error) {
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("kraken frame: %w", err)
	}
	if len(frame) < 4 {
		return nil, nil
	}

	var channelName, pairName string
	if err := json.Unmarshal(frame[len(frame)-2], &channelName); err != nil {
		return nil, nil
	}
	if err := json.Unmarshal(frame[len(frame)-1], &pairName); err != nil {
		return nil, nil
	}
	symbol := canonicalFromKraken(pairName)

	switch {
	case strings.HasPrefix(channelName, "ohlc"):
		tf, ok := krakenTimeframe(channelName)
		if !ok {
			return nil, nil
		}
		var row []string
		if err := json.Unmarshal(frame[1], &row); err != nil || len(row) < 8 {
			return nil, nil
		}
		// row: [time, etime, open, high, low, close, vwap, volume, count]
		endSec := parseFloat(row[1])
		endMS := int64(endSec * 1000)
		startMS := tf.AlignMillis(endMS - 1)
		c := model.Candle{
			ExchangeID:  w.exchangeID,
			Symbol:      symbol,
			Timeframe:   tf,
			TimestampMS: startMS,
			Open:        parseFloat(row[2]),
			High:        parseFloat(row[3]),
			Low:         parseFloat(row[4]),
			Close:       parseFloat(row[5]),
			Volume:      parseFloat(row[7]),
			SequenceNum: int64(parseFloat(row[0]) * 1000),
		}
		return w.tracker.observe(c), nil

	case channelName == "ticker":
		var payload struct {
			C []string `json:"c"`
			V []string `json:"v"`
		}
		if err := json.Unmarshal(frame[1], &payload); err != nil || len(payload.C) == 0 {
			return nil, nil
		}
		t := model.Ticker{
			ExchangeID: w.exchangeID,
			Symbol:     symbol,
			Price:      parseFloat(payload.C[0]),
			UpdatedAt:  time.Now().UTC(),
		}
		if len(payload.V) > 1 {
			t.Volume24h = parseFloat(payload.V[1])
		}
		return []Event{{Type: EventTicker, Ticker: &t}}, nil
	}
	return nil, nil
}

// krakenTimeframe resolves "ohlc-5" style channel names.
func krakenTimeframe(channel string) (model.Timeframe, bool) {
	parts := strings.SplitN(channel, "-", 2)
	if len(parts) != 2 {
		return "", false
	}
	for tf, iv := range krakenIntervals {
		if fmt.Sprintf("%d", iv) == parts[1] {
			return tf, true
		}
	}
	return "", false
}

func (w *krakenWire) candlesPath(symbol string, tf model.Timeframe, limit int) (string, map[string]string) {
	since := time.Now().Add(-time.Duration(limit+1) * tf.Duration()).Unix()
	return "/0/public/OHLC", map[string]string{
		"pair":     strings.ReplaceAll(symbol, "-", ""),
		"interval": fmt.Sprintf("%d", krakenIntervals[tf]),
		"since":    fmt.Sprintf("%d", since),
	}
}

type krakenOHLCResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// parseCandles decodes the OHLC result. The final row is the forming interval
// and is dropped.
func (w *krakenWire) parseCandles(body []byte, symbol string, tf model.Timeframe) ([]model.Candle, error) {
	var resp krakenOHLCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kraken ohlc: %w", err)
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("kraken ohlc: %s", strings.Join(resp.Error, "; "))
	}

	var rows [][]json.RawMessage
	for key, raw := range resp.Result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("kraken ohlc rows: %w", err)
		}
		break
	}
	if len(rows) > 0 {
		rows = rows[:len(rows)-1] // forming interval
	}

	out := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 8 {
			continue
		}
		var tsSec float64
		var o, h, l, c, v string
		if err := json.Unmarshal(row[0], &tsSec); err != nil {
			continue
		}
		json.Unmarshal(row[1], &o)
		json.Unmarshal(row[2], &h)
		json.Unmarshal(row[3], &l)
		json.Unmarshal(row[4], &c)
		json.Unmarshal(row[6], &v)
		ts := int64(tsSec) * 1000
		out = append(out, model.Candle{
			ExchangeID:  w.exchangeID,
			Symbol:      symbol,
			Timeframe:   tf,
			TimestampMS: ts,
			Open:        parseFloat(o),
			High:        parseFloat(h),
			Low:         parseFloat(l),
			Close:       parseFloat(c),
			Volume:      parseFloat(v),
			SequenceNum: ts,
			Closed:      true,
		})
	}
	return out, nil
}
