// Package indicator computes derived values from cached candle series and
// keeps the indicator cache current as closes and repairs arrive.
package indicator

import (
	"livermore/internal/model"
)

// Calculator turns a candle series into one derived value. Implementations
// are black boxes to the rest of the system: consumers see only the
// IndicatorValue shape, never the math.
type Calculator interface {
	// Type is the cache key discriminator, e.g. "momentum".
	Type() string

	// MinCandles is the shortest series that produces a seeded value.
	MinCandles() int

	// Compute derives a value from candles ordered oldest to newest. The
	// result's TimestampMS is the newest input candle's open time.
	Compute(candles []model.Candle) (model.IndicatorValue, error)
}
