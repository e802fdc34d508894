package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

func series(closes []float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{
			Symbol:      "BTC-USD",
			Timeframe:   model.TF1h,
			TimestampMS: int64(i) * model.TF1h.Millis(),
			Open:        c, High: c, Low: c, Close: c,
			Closed: true,
		}
	}
	return out
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestMomentumFlatSeriesIsRanging(t *testing.T) {
	m := NewMomentum()
	v, err := m.Compute(series(flat(80, 50_000)))
	require.NoError(t, err)

	assert.Equal(t, "momentum", v.Type)
	assert.Equal(t, StageRanging, v.Params.Stage)
	assert.True(t, v.Params.Seeded)
	assert.Equal(t, 80, v.Params.NEff)
	assert.InDelta(t, 0, v.Value["macdV"], 1e-9)
}

func TestMomentumSustainedRallyIsRallying(t *testing.T) {
	closes := flat(40, 50_000)
	price := 50_000.0
	for i := 0; i < 40; i++ {
		price *= 1.01
		closes = append(closes, price)
	}

	m := NewMomentum()
	v, err := m.Compute(series(closes))
	require.NoError(t, err)

	assert.Equal(t, StageRallying, v.Params.Stage)
	assert.Greater(t, v.Value["macdV"], rangingBand)
}

func TestMomentumSustainedDeclineIsDeclining(t *testing.T) {
	closes := flat(40, 50_000)
	price := 50_000.0
	for i := 0; i < 40; i++ {
		price *= 0.99
		closes = append(closes, price)
	}

	m := NewMomentum()
	v, err := m.Compute(series(closes))
	require.NoError(t, err)

	assert.Equal(t, StageDeclining, v.Params.Stage)
	assert.Less(t, v.Value["macdV"], -rangingBand)
}

func TestMomentumShortSeriesIsUnseeded(t *testing.T) {
	m := NewMomentum()
	v, err := m.Compute(series(flat(20, 50_000)))
	require.NoError(t, err)
	assert.False(t, v.Params.Seeded)
	assert.Equal(t, 20, v.Params.NEff)
}

func TestMomentumEmptySeriesErrors(t *testing.T) {
	m := NewMomentum()
	_, err := m.Compute(nil)
	assert.Error(t, err)
}

func TestMomentumTimestampIsNewestCandle(t *testing.T) {
	candles := series(flat(60, 100))
	m := NewMomentum()
	v, err := m.Compute(candles)
	require.NoError(t, err)
	assert.Equal(t, candles[len(candles)-1].TimestampMS, v.TimestampMS)
}
