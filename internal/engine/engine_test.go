package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/exchange"
	"livermore/internal/model"
	"livermore/internal/registry"
)

type fakeAdapter struct {
	mu           sync.Mutex
	connected    bool
	subscribed   []string
	disconnected bool
	events       chan exchange.Event
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{events: make(chan exchange.Event, 16)}
}

func (a *fakeAdapter) Name() string { return "coinbase" }

func (a *fakeAdapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *fakeAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.disconnected = true
	return nil
}

func (a *fakeAdapter) Subscribe(_ context.Context, symbols []string, _ []model.Timeframe) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribed = append(a.subscribed, symbols...)
	return nil
}

func (a *fakeAdapter) Unsubscribe(_ context.Context, _ []string) error { return nil }

func (a *fakeAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAdapter) Events() <-chan exchange.Event { return a.events }

func (a *fakeAdapter) FetchCandles(_ context.Context, _ string, _ model.Timeframe, _ int) ([]model.Candle, error) {
	return nil, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	candles []model.Candle
	tickers []model.Ticker
	reject  bool
}

func (w *fakeWriter) AddCandleIfNewer(_ context.Context, c model.Candle) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reject {
		return false, nil
	}
	w.candles = append(w.candles, c)
	return true, nil
}

func (w *fakeWriter) WriteTicker(_ context.Context, t model.Ticker) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickers = append(w.tickers, t)
	return nil
}

func (w *fakeWriter) candleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.candles)
}

type fakeSymbols struct {
	rows []model.ExchangeSymbol
}

func (s *fakeSymbols) SymbolsByExchange(_ context.Context, _ int) ([]model.ExchangeSymbol, error) {
	return s.rows, nil
}

func (s *fakeSymbols) SentinelSymbol(_ context.Context, _ int) (string, error) {
	return s.rows[0].Symbol, nil
}

type fakeWarmer struct {
	mu     sync.Mutex
	runs   [][]string
	forced [][]string
}

func (w *fakeWarmer) Run(_ context.Context, symbols []string, _ string, _ []model.Timeframe) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runs = append(w.runs, symbols)
	return nil
}

func (w *fakeWarmer) RunForced(_ context.Context, symbols []string, _ []model.Timeframe) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.forced = append(w.forced, symbols)
	return nil
}

func (w *fakeWarmer) forcedCalls() [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]string(nil), w.forced...)
}

type fakeBoundary struct {
	mu    sync.Mutex
	pairs []string
	added []string
	ran   bool
}

func (b *fakeBoundary) SetPairs(symbols []string, _ []model.Timeframe) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairs = append([]string(nil), symbols...)
}

func (b *fakeBoundary) AddSymbol(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = append(b.added, symbol)
}

// Run blocks until ctx ends, like the real reconciler.
func (b *fakeBoundary) Run(ctx context.Context) {
	b.mu.Lock()
	b.ran = true
	b.mu.Unlock()
	<-ctx.Done()
}

func (b *fakeBoundary) wasRun() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ran
}

type fakeRecomputer struct {
	mu     sync.Mutex
	closes []model.Candle
}

func (r *fakeRecomputer) Run(ctx context.Context, closes <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-closes:
			if !ok {
				return
			}
			r.mu.Lock()
			r.closes = append(r.closes, c)
			r.mu.Unlock()
		}
	}
}

func (r *fakeRecomputer) Trigger(_ string, _ model.Timeframe, _ int64) {}

func (r *fakeRecomputer) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closes)
}

type nopRegCache struct{}

func (nopRegCache) WriteInstanceStatus(_ context.Context, _ *model.InstanceStatus) error { return nil }
func (nopRegCache) AppendActivity(_ context.Context, _ int, _ map[string]interface{}) error {
	return nil
}

func testRegistry() *registry.Registry {
	return registry.New(registry.Identity{ExchangeID: 1, ExchangeName: "coinbase"},
		nopRegCache{}, nil, registry.NewFSM())
}

type harness struct {
	eng     *Engine
	adapter *fakeAdapter
	writer  *fakeWriter
	warmer  *fakeWarmer
	bound   *fakeBoundary
	recomp  *fakeRecomputer
	reg     *registry.Registry
}

func newHarness(symbols ...string) *harness {
	if len(symbols) == 0 {
		symbols = []string{"BTC-USD", "ETH-USD"}
	}
	rows := make([]model.ExchangeSymbol, len(symbols))
	for i, s := range symbols {
		rows[i] = model.ExchangeSymbol{ExchangeID: 1, Symbol: s}
	}
	h := &harness{
		adapter: newFakeAdapter(),
		writer:  &fakeWriter{},
		warmer:  &fakeWarmer{},
		bound:   &fakeBoundary{},
		recomp:  &fakeRecomputer{},
		reg:     testRegistry(),
	}
	ex := &model.Exchange{
		ID:                  1,
		Name:                "coinbase",
		SupportedTimeframes: []model.Timeframe{model.TF15m, model.TF1h},
	}
	h.eng = New(ex, h.adapter, h.writer, &fakeSymbols{rows: rows}, h.reg,
		h.warmer, h.bound, h.recomp, nil)
	return h
}

func TestStartWalksLifecycleToActive(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.eng.Start(context.Background()))
	defer h.eng.Stop(context.Background())

	assert.Equal(t, model.StateActive, h.eng.State())
	assert.True(t, h.adapter.IsConnected())
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, h.adapter.subscribed)
	assert.Len(t, h.warmer.runs, 1)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, h.bound.pairs)
	require.Eventually(t, h.bound.wasRun, time.Second, 5*time.Millisecond)
}

func TestStartReturnsWhileBoundaryLoopBlocks(t *testing.T) {
	h := newHarness()

	done := make(chan error, 1)
	go func() { done <- h.eng.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return while the boundary loop was running")
	}
	assert.Equal(t, model.StateActive, h.eng.State())
	require.NoError(t, h.eng.Stop(context.Background()))
}

func TestStartRejectedWhenNotIdle(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.eng.Start(context.Background()))
	defer h.eng.Stop(context.Background())

	err := h.eng.Start(context.Background())
	assert.ErrorIs(t, err, registry.ErrInvalidTransition)
	assert.Equal(t, model.StateActive, h.eng.State())
}

func TestStopDrainsAndReachesStopped(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.eng.Start(context.Background()))
	require.NoError(t, h.eng.Stop(context.Background()))

	assert.Equal(t, model.StateStopped, h.eng.State())
	assert.True(t, h.adapter.disconnected)
}

func TestPumpWritesCandlesAndForwardsCloses(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.eng.Start(context.Background()))
	defer h.eng.Stop(context.Background())

	h.adapter.events <- exchange.Event{Type: exchange.EventCandleUpdate, Candle: &model.Candle{
		Symbol: "BTC-USD", Timeframe: model.TF1h, TimestampMS: 1000,
	}}
	h.adapter.events <- exchange.Event{Type: exchange.EventCandleClose, Candle: &model.Candle{
		Symbol: "BTC-USD", Timeframe: model.TF1h, TimestampMS: 1000, Closed: true,
	}}
	h.adapter.events <- exchange.Event{Type: exchange.EventTicker, Ticker: &model.Ticker{
		Symbol: "BTC-USD", Price: 50000,
	}}

	require.Eventually(t, func() bool {
		h.writer.mu.Lock()
		defer h.writer.mu.Unlock()
		return len(h.writer.candles) == 2 && len(h.writer.tickers) == 1
	}, time.Second, 5*time.Millisecond)

	// Only the close reaches the recompute channel.
	require.Eventually(t, func() bool { return h.recomp.closeCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAddSymbolsSkipsKnownAndBackfillsFresh(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.eng.Start(context.Background()))
	defer h.eng.Stop(context.Background())

	require.NoError(t, h.eng.AddSymbols(context.Background(), []string{"BTC-USD", "SOL-USD"}))

	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "SOL-USD"}, h.adapter.subscribed)
	assert.Equal(t, []string{"SOL-USD"}, h.bound.added)
	require.Eventually(t, func() bool { return len(h.warmer.forcedCalls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"SOL-USD"}, h.warmer.forcedCalls()[0])
}

func TestAddSymbolsRequiresActive(t *testing.T) {
	h := newHarness()
	err := h.eng.AddSymbols(context.Background(), []string{"SOL-USD"})
	assert.ErrorIs(t, err, registry.ErrInvalidTransition)
}

func TestForceBackfillNilMeansWholeUniverse(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.eng.Start(context.Background()))
	defer h.eng.Stop(context.Background())

	require.NoError(t, h.eng.ForceBackfill(context.Background(), nil))
	forced := h.warmer.forcedCalls()
	require.Len(t, forced, 1)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, forced[0])
}

func TestResetFromActiveReturnsToIdle(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.eng.Start(context.Background()))

	require.NoError(t, h.eng.Reset(context.Background()))
	assert.Equal(t, model.StateIdle, h.eng.State())
	assert.True(t, h.adapter.disconnected)

	// A fresh start from idle works again.
	require.NoError(t, h.eng.Start(context.Background()))
	defer h.eng.Stop(context.Background())
	assert.Equal(t, model.StateActive, h.eng.State())
}
