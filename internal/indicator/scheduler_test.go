package indicator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

type memCache struct {
	mu      sync.Mutex
	candles map[string][]model.Candle
	written []model.IndicatorValue
	reads   int
}

func (m *memCache) RecentCandles(_ context.Context, _ int, symbol string, tf model.Timeframe, _ int) ([]model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.candles[symbol+":"+string(tf)], nil
}

func (m *memCache) WriteIndicator(_ context.Context, v model.IndicatorValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, v)
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	values []model.IndicatorValue
}

func (c *captureSink) Evaluate(_ context.Context, v model.IndicatorValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, v)
	return nil
}

func (c *captureSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

func newMemCache(symbol string, tf model.Timeframe, n int) *memCache {
	return &memCache{candles: map[string][]model.Candle{
		symbol + ":" + string(tf): series(flat(n, 50_000)),
	}}
}

func TestRecomputeStampsIdentityAndForwards(t *testing.T) {
	cache := newMemCache("BTC-USD", model.TF1h, 80)
	sink := &captureSink{}
	s := NewScheduler(7, cache, NewMomentum(), sink)

	require.NoError(t, s.recompute(context.Background(), job{symbol: "BTC-USD", tf: model.TF1h}))

	require.Len(t, cache.written, 1)
	v := cache.written[0]
	assert.Equal(t, 7, v.ExchangeID)
	assert.Equal(t, "BTC-USD", v.Symbol)
	assert.Equal(t, model.TF1h, v.Timeframe)
	assert.Equal(t, "momentum", v.Type)

	require.Len(t, sink.values, 1)
	assert.Equal(t, v, sink.values[0], "sink sees exactly the cached value")
}

func TestEnqueueCoalescesSamePair(t *testing.T) {
	s := NewScheduler(1, &memCache{}, NewMomentum(), nil)
	j := job{symbol: "BTC-USD", tf: model.TF5m}
	s.enqueue(j)
	s.enqueue(j)
	s.enqueue(job{symbol: "ETH-USD", tf: model.TF5m})
	s.enqueue(j)

	first, ok := s.dequeue()
	require.True(t, ok)
	assert.Equal(t, j, first)
	second, ok := s.dequeue()
	require.True(t, ok)
	assert.Equal(t, job{symbol: "ETH-USD", tf: model.TF5m}, second)
	_, ok = s.dequeue()
	assert.False(t, ok, "repeat closes for one pair collapse to one job")
}

func TestTriggerSkipsRepairsNewerThanCurrentValue(t *testing.T) {
	cache := newMemCache("BTC-USD", model.TF1h, 80)
	s := NewScheduler(1, cache, NewMomentum(), nil)
	j := job{symbol: "BTC-USD", tf: model.TF1h}
	require.NoError(t, s.recompute(context.Background(), j))
	computedTS := cache.written[0].TimestampMS

	s.Trigger("BTC-USD", model.TF1h, computedTS+model.TF1h.Millis())
	_, ok := s.dequeue()
	assert.False(t, ok, "repair past the current value is covered by the close channel")

	s.Trigger("BTC-USD", model.TF1h, computedTS-model.TF1h.Millis())
	got, ok := s.dequeue()
	require.True(t, ok)
	assert.Equal(t, j, got)
}

func TestTriggerWithNoCurrentValueEnqueues(t *testing.T) {
	s := NewScheduler(1, &memCache{}, NewMomentum(), nil)
	s.Trigger("BTC-USD", model.TF1h, 12345)
	_, ok := s.dequeue()
	assert.True(t, ok)
}

func TestRunProcessesCloses(t *testing.T) {
	cache := newMemCache("BTC-USD", model.TF1h, 80)
	sink := &captureSink{}
	s := NewScheduler(1, cache, NewMomentum(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closes := make(chan model.Candle, 4)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, closes)
		close(done)
	}()

	closes <- model.Candle{Symbol: "BTC-USD", Timeframe: model.TF1h, Closed: true}

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
