package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCandleKey(t *testing.T) {
	c := &Candle{ExchangeID: 42, Symbol: "BTC-USD", Timeframe: TF1h}
	assert.Equal(t, "42:BTC-USD:1h", c.Key())
}

func TestCandleAge(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	c := &Candle{TimestampMS: now.Add(-15 * time.Minute).UnixMilli()}
	assert.Equal(t, 15*time.Minute, c.Age(now))
}

func TestScanOrderCoversAllTimeframes(t *testing.T) {
	assert.Len(t, ScanOrder, len(AllTimeframes))
	in := map[Timeframe]bool{}
	for _, tf := range ScanOrder {
		in[tf] = true
	}
	for _, tf := range AllTimeframes {
		assert.True(t, in[tf], "timeframe %s missing from scan order", tf)
	}
}
