package warmup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

func TestScanTieredFailedSentinelMarksWholeTimeframe(t *testing.T) {
	now := time.Now()
	symbols := []string{"BTC-USD", "ETH-USD", "SOL-USD"}

	cache := newFakeCache()
	// Sentinel 1h series is empty; 5m is healthy everywhere.
	for _, sym := range symbols {
		cache.counts[pairKey(sym, model.TF5m)] = 200
		cache.newest[pairKey(sym, model.TF5m)] = &model.Candle{
			TimestampMS: now.UnixMilli() - 60_000,
		}
	}

	sc := NewScanner(cache, func() time.Time { return now })
	results, err := sc.ScanTiered(context.Background(), 1, "BTC-USD", symbols, []model.Timeframe{model.TF1h, model.TF5m})
	require.NoError(t, err)
	require.Len(t, results, 6)

	byKey := map[string]model.PairStatus{}
	for _, st := range results {
		byKey[pairKey(st.Symbol, st.Timeframe)] = st
	}
	for _, sym := range symbols {
		assert.False(t, byKey[pairKey(sym, model.TF1h)].Sufficient)
		assert.Equal(t, model.ReasonEmpty, byKey[pairKey(sym, model.TF1h)].Reason)
		assert.True(t, byKey[pairKey(sym, model.TF5m)].Sufficient)
	}

	// The failed 1h sentinel must not trigger per-symbol 1h queries: one
	// count call for the sentinel, then one per symbol for 5m.
	for _, call := range cache.countCalls {
		if call != pairKey("BTC-USD", model.TF1h) {
			assert.NotContains(t, call, ":1h")
		}
	}
	assert.Len(t, cache.countCalls, 4)
}

func TestScanFullRefreshCoversEveryTimeframe(t *testing.T) {
	sc := NewScanner(newFakeCache(), nil)

	// Every supported timeframe must survive the scan-order filter; a
	// timeframe missing from the order would be dropped silently.
	results := sc.ScanFullRefresh([]string{"BTC-USD"}, model.AllTimeframes)
	require.Len(t, results, len(model.AllTimeframes))

	seen := map[model.Timeframe]bool{}
	for _, st := range results {
		seen[st.Timeframe] = true
		assert.Equal(t, model.ReasonEmpty, st.Reason)
	}
	for _, tf := range model.AllTimeframes {
		assert.True(t, seen[tf], "timeframe %s not scanned", tf)
	}
}

func TestCheckPairReasons(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name       string
		count      int64
		ageMS      int64
		reason     string
		sufficient bool
	}{
		{"empty series", 0, 0, model.ReasonEmpty, false},
		{"below indicator minimum", 40, 60_000, model.ReasonLowCount, false},
		{"stale 15m series", 100, 3_000_000, model.ReasonStale, false},
		{"healthy series", 100, 60_000, model.ReasonOK, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := newFakeCache()
			if tc.count > 0 {
				cache.counts[pairKey("BTC-USD", model.TF15m)] = tc.count
				cache.newest[pairKey("BTC-USD", model.TF15m)] = &model.Candle{
					TimestampMS: now.UnixMilli() - tc.ageMS,
				}
			}

			sc := NewScanner(cache, func() time.Time { return now })
			st, err := sc.checkPair(context.Background(), 1, "BTC-USD", model.TF15m)
			require.NoError(t, err)
			assert.Equal(t, tc.reason, st.Reason)
			assert.Equal(t, tc.sufficient, st.Sufficient)
		})
	}
}
