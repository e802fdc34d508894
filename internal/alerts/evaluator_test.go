package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

type memStore struct {
	mu       sync.Mutex
	inserted []model.Alert
	nextID   int64
	dup      bool
	notified []int64
}

func (m *memStore) InsertAlert(_ context.Context, a *model.Alert) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dup {
		return 0, nil
	}
	m.nextID++
	a.ID = m.nextID
	m.inserted = append(m.inserted, *a)
	return m.nextID, nil
}

func (m *memStore) MarkAlertNotified(_ context.Context, id int64, _ bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, id)
	return nil
}

type memBus struct {
	mu        sync.Mutex
	published []model.BusAlert
}

func (m *memBus) PublishAlert(_ context.Context, a model.BusAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, a)
	return nil
}

type fixedPrices struct{ price float64 }

func (f fixedPrices) ReadTicker(context.Context, int, string) (*model.Ticker, error) {
	return &model.Ticker{Price: f.price}, nil
}

func (f fixedPrices) NewestCandle(context.Context, int, string, model.Timeframe) (*model.Candle, error) {
	return nil, nil
}

func value(stage string, macdV float64) model.IndicatorValue {
	return model.IndicatorValue{
		ExchangeID:  1,
		Symbol:      "BTC-USD",
		Timeframe:   model.TF1h,
		Type:        "momentum",
		TimestampMS: time.Now().UnixMilli(),
		Value:       map[string]float64{"macdV": macdV},
		Params:      model.IndicatorParams{Stage: stage, Seeded: true, NEff: 100},
	}
}

func TestEvaluateRangingToRallyingEmitsReversalOversold(t *testing.T) {
	store := &memStore{}
	bus := &memBus{}
	e := NewEvaluator(1, "coinbase", store, bus, fixedPrices{price: 50000.12}, nil, nil)

	require.NoError(t, e.Evaluate(context.Background(), value("ranging", 10)))
	require.NoError(t, e.Evaluate(context.Background(), value("rallying", 95.4)))

	require.Len(t, store.inserted, 1)
	a := store.inserted[0]
	assert.Equal(t, "reversal_oversold", a.TriggerLabel)
	assert.Equal(t, "ranging", a.PreviousLabel)
	assert.InDelta(t, 95.4, a.TriggerValue, 1e-9)
	assert.InDelta(t, 50000.12, a.Price, 1e-9)
	assert.Equal(t, 1, a.ExchangeID)
	assert.Equal(t, "BTC-USD", a.Symbol)
	assert.Equal(t, model.TF1h, a.Timeframe)

	require.Len(t, bus.published, 1)
	assert.Equal(t, 1, bus.published[0].SourceExchangeID)
	assert.Equal(t, "coinbase", bus.published[0].SourceExchangeName)
}

func TestEvaluateToppingToDecliningEmitsReversalOverbought(t *testing.T) {
	store := &memStore{}
	e := NewEvaluator(1, "coinbase", store, &memBus{}, fixedPrices{}, nil, nil)

	require.NoError(t, e.Evaluate(context.Background(), value("topping", 60)))
	require.NoError(t, e.Evaluate(context.Background(), value("declining", -40)))

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "reversal_overbought", store.inserted[0].TriggerLabel)
}

func TestEvaluateFirstValueEmitsNothing(t *testing.T) {
	store := &memStore{}
	e := NewEvaluator(1, "coinbase", store, &memBus{}, fixedPrices{}, nil, nil)
	require.NoError(t, e.Evaluate(context.Background(), value("rallying", 95)))
	assert.Empty(t, store.inserted, "no carried state, no transition")
}

func TestEvaluateUnseededValueSkipped(t *testing.T) {
	store := &memStore{}
	e := NewEvaluator(1, "coinbase", store, &memBus{}, fixedPrices{}, nil, nil)

	require.NoError(t, e.Evaluate(context.Background(), value("ranging", 5)))
	v := value("rallying", 95)
	v.Params.Seeded = false
	require.NoError(t, e.Evaluate(context.Background(), v))
	assert.Empty(t, store.inserted)
}

func TestEvaluateDuplicateInsertDoesNotPublish(t *testing.T) {
	store := &memStore{dup: true}
	bus := &memBus{}
	e := NewEvaluator(1, "coinbase", store, bus, fixedPrices{}, nil, nil)

	require.NoError(t, e.Evaluate(context.Background(), value("ranging", 10)))
	require.NoError(t, e.Evaluate(context.Background(), value("rallying", 95)))
	assert.Empty(t, bus.published, "a zero insert id means the alert already fired")
}

func TestEvaluateSameStageEmitsNothing(t *testing.T) {
	store := &memStore{}
	e := NewEvaluator(1, "coinbase", store, &memBus{}, fixedPrices{}, nil, nil)

	require.NoError(t, e.Evaluate(context.Background(), value("rallying", 60)))
	require.NoError(t, e.Evaluate(context.Background(), value("rallying", 62)))
	assert.Empty(t, store.inserted)
}

func TestEvaluateNotifierRunsOffCriticalPath(t *testing.T) {
	store := &memStore{}
	done := make(chan model.Alert, 1)
	e := NewEvaluator(1, "coinbase", store, &memBus{}, fixedPrices{}, notifierFunc(func(_ context.Context, a model.Alert) error {
		done <- a
		return nil
	}), nil)

	require.NoError(t, e.Evaluate(context.Background(), value("ranging", 10)))
	require.NoError(t, e.Evaluate(context.Background(), value("rallying", 95)))

	select {
	case a := <-done:
		assert.Equal(t, "reversal_oversold", a.TriggerLabel)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier never invoked")
	}
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.notified) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type notifierFunc func(ctx context.Context, a model.Alert) error

func (f notifierFunc) Notify(ctx context.Context, a model.Alert) error { return f(ctx, a) }
