package warmup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

func TestAssessSentinelAgeBoundary(t *testing.T) {
	// Candle timestamps carry millisecond precision, so the clock has to be
	// truncated the same way or the exact-threshold case drifts over by the
	// sub-millisecond remainder.
	now := time.UnixMilli(time.Now().UnixMilli())

	cases := []struct {
		name string
		age  time.Duration
		mode string
	}{
		{"exactly at threshold stays targeted", 20 * time.Minute, model.ModeTargeted},
		{"one second past threshold refreshes", 20*time.Minute + time.Second, model.ModeFullRefresh},
		{"fresh sentinel stays targeted", 3 * time.Minute, model.ModeTargeted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := newFakeCache()
			cache.status = &model.InstanceStatus{LastHeartbeat: now.Add(-time.Minute)}
			cache.newest[pairKey("BTC-USD", model.TF5m)] = &model.Candle{
				Symbol:      "BTC-USD",
				Timeframe:   model.TF5m,
				TimestampMS: now.Add(-tc.age).UnixMilli(),
				Closed:      true,
			}

			a := NewAssessor(cache, func() time.Time { return now })
			dec, err := a.Assess(context.Background(), 1, "BTC-USD")
			require.NoError(t, err)
			assert.Equal(t, tc.mode, dec.Mode)
		})
	}
}

func TestAssessMissingStatusFallsThroughToSentinel(t *testing.T) {
	now := time.Now()
	cache := newFakeCache()
	cache.newest[pairKey("BTC-USD", model.TF5m)] = &model.Candle{
		Symbol:      "BTC-USD",
		Timeframe:   model.TF5m,
		TimestampMS: now.Add(-time.Minute).UnixMilli(),
		Closed:      true,
	}

	a := NewAssessor(cache, func() time.Time { return now })
	dec, err := a.Assess(context.Background(), 1, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, model.ModeTargeted, dec.Mode, "brief restart with fresh sentinel is trusted")
}

func TestAssessStaleHeartbeatForcesRefresh(t *testing.T) {
	now := time.Now()
	cache := newFakeCache()
	cache.status = &model.InstanceStatus{LastHeartbeat: now.Add(-3*time.Hour - time.Minute)}

	a := NewAssessor(cache, func() time.Time { return now })
	dec, err := a.Assess(context.Background(), 1, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, model.ModeFullRefresh, dec.Mode)
	assert.Equal(t, "heartbeat stale", dec.Reason)
}

func TestAssessEmptySentinelForcesRefresh(t *testing.T) {
	now := time.Now()
	cache := newFakeCache()
	cache.status = &model.InstanceStatus{LastHeartbeat: now.Add(-time.Minute)}

	a := NewAssessor(cache, func() time.Time { return now })
	dec, err := a.Assess(context.Background(), 1, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, model.ModeFullRefresh, dec.Mode)
	assert.Equal(t, "sentinel empty", dec.Reason)
}
