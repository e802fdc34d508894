package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"livermore/internal/model"
)

// coinbaseWire speaks the Coinbase market-data protocol: candles + ticker
// WebSocket channels and the products/{id}/candles REST endpoint. Product ids
// already match the canonical "BTC-USD" symbol form.
type coinbaseWire struct {
	exchangeID int
	ws         string
	tracker    *bucketTracker
}

func newCoinbase(ex *model.Exchange) Adapter {
	w := &coinbaseWire{
		exchangeID: ex.ID,
		ws:         ex.WSURL,
		tracker:    newBucketTracker(),
	}
	return newVenue(w, ex.RESTURL, 8)
}

func (w *coinbaseWire) name() string  { return "coinbase" }
func (w *coinbaseWire) wsURL() string { return w.ws }

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	ProductIDs []string `json:"product_ids"`
}

func (w *coinbaseWire) subscribeFrames(pairs []pair) []any {
	products := uniqueSymbols(pairs)
	return []any{
		coinbaseSubscribe{Type: "subscribe", Channel: "candles", ProductIDs: products},
		coinbaseSubscribe{Type: "subscribe", Channel: "ticker", ProductIDs: products},
	}
}

func (w *coinbaseWire) unsubscribeFrames(pairs []pair) []any {
	products := uniqueSymbols(pairs)
	return []any{
		coinbaseSubscribe{Type: "unsubscribe", Channel: "candles", ProductIDs: products},
		coinbaseSubscribe{Type: "unsubscribe", Channel: "ticker", ProductIDs: products},
	}
}

type coinbaseFrame struct {
	Channel     string `json:"channel"`
	SequenceNum int64  `json:"sequence_num"`
	Events      []struct {
		Type    string `json:"type"`
		Candles []struct {
			Start     string `json:"start"`
			Open      string `json:"open"`
			High      string `json:"high"`
			Low       string `json:"low"`
			Close     string `json:"close"`
			Volume    string `json:"volume"`
			ProductID string `json:"product_id"`
		} `json:"candles"`
		Tickers []struct {
			ProductID string `json:"product_id"`
			Price     string `json:"price"`
			Volume24h string `json:"volume_24_h"`
		} `json:"tickers"`
	} `json:"events"`
}

// coinbaseCandleGranularity is the interval of the candles channel.
const coinbaseCandleGranularity = model.TF5m

func (w *coinbaseWire) parse(raw []byte) ([]Event, error) {
	var frame coinbaseFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("coinbase frame: %w", err)
	}

	var out []Event
	switch frame.Channel {
	case "candles":
		for _, ev := range frame.Events {
			for _, raw := range ev.Candles {
				startSec, err := strconv.ParseInt(raw.Start, 10, 64)
				if err != nil {
					continue
				}
				c := model.Candle{
					ExchangeID:  w.exchangeID,
					Symbol:      raw.ProductID,
					Timeframe:   coinbaseCandleGranularity,
					TimestampMS: startSec * 1000,
					Open:        parseFloat(raw.Open),
					High:        parseFloat(raw.High),
					Low:         parseFloat(raw.Low),
					Close:       parseFloat(raw.Close),
					Volume:      parseFloat(raw.Volume),
					SequenceNum: frame.SequenceNum,
				}
				out = append(out, w.tracker.observe(c)...)
			}
		}
	case "ticker":
		for _, ev := range frame.Events {
			for _, raw := range ev.Tickers {
				t := model.Ticker{
					ExchangeID: w.exchangeID,
					Symbol:     raw.ProductID,
					Price:      parseFloat(raw.Price),
					Volume24h:  parseFloat(raw.Volume24h),
					UpdatedAt:  time.Now().UTC(),
				}
				out = append(out, Event{Type: EventTicker, Ticker: &t})
			}
		}
	}
	return out, nil
}

// coinbaseGranularities maps timeframes to REST granularity seconds.
var coinbaseGranularities = map[model.Timeframe]int{
	model.TF1m: 60, model.TF5m: 300, model.TF15m: 900, model.TF30m: 1800,
	model.TF1h: 3600, model.TF4h: 14400, model.TF1d: 86400,
}

func (w *coinbaseWire) candlesPath(symbol string, tf model.Timeframe, limit int) (string, map[string]string) {
	end := time.Now().UTC()
	start := end.Add(-time.Duration(limit+1) * tf.Duration())
	return "/products/" + symbol + "/candles", map[string]string{
		"granularity": strconv.Itoa(coinbaseGranularities[tf]),
		"start":       start.Format(time.RFC3339),
		"end":         end.Format(time.RFC3339),
	}
}

// parseCandles decodes the [[time, low, high, open, close, volume], ...]
// response (newest first) into closed candles, oldest first.
func (w *coinbaseWire) parseCandles(body []byte, symbol string, tf model.Timeframe) ([]model.Candle, error) {
	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("coinbase candles: %w", err)
	}
	out := make([]model.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		ts := int64(row[0]) * 1000
		out = append(out, model.Candle{
			ExchangeID:  w.exchangeID,
			Symbol:      symbol,
			Timeframe:   tf,
			TimestampMS: ts,
			Low:         row[1],
			High:        row[2],
			Open:        row[3],
			Close:       row[4],
			Volume:      row[5],
			SequenceNum: ts,
			Closed:      true,
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func uniqueSymbols(pairs []pair) []string {
	seen := make(map[string]struct{}, len(pairs))
	var out []string
	for _, p := range pairs {
		if _, ok := seen[p.symbol]; !ok {
			seen[p.symbol] = struct{}{}
			out = append(out, p.symbol)
		}
	}
	return out
}
