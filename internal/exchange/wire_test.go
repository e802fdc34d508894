package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

func TestBucketTrackerRollsBucketToClose(t *testing.T) {
	tr := newBucketTracker()

	first := model.Candle{ExchangeID: 1, Symbol: "BTC-USD", Timeframe: model.TF5m, TimestampMS: 300_000, Close: 10, SequenceNum: 1}
	events := tr.observe(first)
	require.Len(t, events, 1)
	assert.Equal(t, EventCandleUpdate, events[0].Type)
	assert.False(t, events[0].Candle.Closed)

	// Update within the same bucket: still forming, no close.
	second := first
	second.Close = 11
	second.SequenceNum = 2
	events = tr.observe(second)
	require.Len(t, events, 1)
	assert.Equal(t, EventCandleUpdate, events[0].Type)

	// New bucket: previous one is yielded as closed.
	third := model.Candle{ExchangeID: 1, Symbol: "BTC-USD", Timeframe: model.TF5m, TimestampMS: 600_000, Close: 12, SequenceNum: 3}
	events = tr.observe(third)
	require.Len(t, events, 2)
	assert.Equal(t, EventCandleClose, events[0].Type)
	assert.True(t, events[0].Candle.Closed)
	assert.Equal(t, int64(300_000), events[0].Candle.TimestampMS)
	assert.Equal(t, 11.0, events[0].Candle.Close)
	assert.Equal(t, EventCandleUpdate, events[1].Type)
}

func TestBucketTrackerLateUpdateBecomesAmend(t *testing.T) {
	tr := newBucketTracker()
	tr.observe(model.Candle{Symbol: "BTC-USD", Timeframe: model.TF5m, TimestampMS: 600_000, SequenceNum: 5})

	late := model.Candle{Symbol: "BTC-USD", Timeframe: model.TF5m, TimestampMS: 300_000, SequenceNum: 6}
	events := tr.observe(late)
	require.Len(t, events, 1)
	assert.Equal(t, EventCandleUpdate, events[0].Type)
	assert.True(t, events[0].Candle.Closed)
}

func TestBinanceParseKline(t *testing.T) {
	ex := &model.Exchange{ID: 2, Name: "binance", WSURL: "wss://x", RESTURL: "https://x"}
	v := newBinance(ex).(*venue)
	w := v.w.(*binanceWire)
	w.wireSymbol("BTC-USDT") // register canonical mapping

	raw := []byte(`{"e":"kline","E":1700000001000,"s":"BTCUSDT","k":{"t":1700000000000,"s":"BTCUSDT","i":"1h","o":"50000","h":"50100","l":"49900","c":"50050","v":"42.5","x":true}}`)
	events, err := w.parse(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	c := events[0].Candle
	assert.Equal(t, EventCandleClose, events[0].Type)
	assert.Equal(t, "BTC-USDT", c.Symbol)
	assert.Equal(t, model.TF1h, c.Timeframe)
	assert.Equal(t, int64(1700000000000), c.TimestampMS)
	assert.Equal(t, int64(1700000001000), c.SequenceNum)
	assert.True(t, c.Closed)
	assert.Equal(t, 50050.0, c.Close)
}

func TestStreamerCloseDedup(t *testing.T) {
	s := newStreamer(&binanceWire{exchangeID: 1, venueName: "binance", canonical: map[string]string{}})
	ctx := context.Background()

	c := &model.Candle{ExchangeID: 1, Symbol: "BTC-USD", Timeframe: model.TF1m, TimestampMS: 60_000, SequenceNum: 10, Closed: true}
	s.deliver(ctx, Event{Type: EventCandleClose, Candle: c})
	require.Len(t, s.events, 1)
	assert.Equal(t, EventCandleClose, (<-s.events).Type)

	// Same timestamp, same sequence: dropped.
	s.deliver(ctx, Event{Type: EventCandleClose, Candle: c})
	assert.Len(t, s.events, 0)

	// Same timestamp, higher sequence: emitted as an update.
	amended := *c
	amended.SequenceNum = 11
	s.deliver(ctx, Event{Type: EventCandleClose, Candle: &amended})
	require.Len(t, s.events, 1)
	assert.Equal(t, EventCandleUpdate, (<-s.events).Type)
}

func TestFactoryUnsupportedAdapter(t *testing.T) {
	_, err := New(&model.Exchange{ID: 9, Name: "kucoin"})
	assert.ErrorIs(t, err, ErrUnsupportedAdapter)
}
