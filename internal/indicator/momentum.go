package indicator

import (
	"errors"
	"math"

	"livermore/internal/model"
)

// Stage labels emitted by the momentum calculator.
const (
	StageRanging   = "ranging"
	StageRallying  = "rallying"
	StageDeclining = "declining"
	StageTopping   = "topping"
	StageBottoming = "bottoming"
)

// minSeedCandles matches the warmup scanner's sufficiency threshold.
const minSeedCandles = 52

// rangingBand is the raw-value band, in basis points, inside which the market
// is considered directionless.
const rangingBand = 15.0

var errNoCandles = errors.New("momentum: empty candle series")

// Momentum is the default derived-value calculator: the spread between a fast
// and a slow EMA of closes, expressed in basis points of price, with a signal
// EMA for turn detection.
type Momentum struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

// NewMomentum returns a Momentum with the standard 12/26/9 periods.
func NewMomentum() *Momentum {
	return &Momentum{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9}
}

func (m *Momentum) Type() string { return "momentum" }

func (m *Momentum) MinCandles() int { return minSeedCandles }

// Compute derives the momentum value. Series shorter than MinCandles still
// produce a value, flagged seeded=false so downstream consumers skip it.
func (m *Momentum) Compute(candles []model.Candle) (model.IndicatorValue, error) {
	if len(candles) == 0 {
		return model.IndicatorValue{}, errNoCandles
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := ema(closes, m.FastPeriod)
	slow := ema(closes, m.SlowPeriod)

	spread := make([]float64, len(closes))
	for i := range closes {
		if closes[i] != 0 {
			spread[i] = (fast[i] - slow[i]) / closes[i] * 10_000
		}
	}
	signal := ema(spread, m.SignalPeriod)

	last := len(closes) - 1
	raw := spread[last]
	hist := raw - signal[last]

	v := model.IndicatorValue{
		Type:        m.Type(),
		TimestampMS: candles[last].TimestampMS,
		Value: map[string]float64{
			"macdV":     raw,
			"signal":    signal[last],
			"histogram": hist,
		},
		Params: model.IndicatorParams{
			Stage:  stage(raw, hist),
			Seeded: len(candles) >= m.MinCandles(),
			NEff:   len(candles),
		},
	}
	return v, nil
}

// stage maps (raw, histogram) to a market stage. Sign of raw gives the side,
// sign of the histogram says whether momentum is still building or fading.
func stage(raw, hist float64) string {
	if math.Abs(raw) < rangingBand {
		return StageRanging
	}
	switch {
	case raw > 0 && hist >= 0:
		return StageRallying
	case raw > 0:
		return StageTopping
	case hist <= 0:
		return StageDeclining
	default:
		return StageBottoming
	}
}

// ema computes an exponential moving average series seeded on the first value.
func ema(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}
