// Package warmup implements the smart warmup engine: cache-trust assessment,
// candle-status scanning, schedule building, and bounded-concurrency REST
// execution that brings the exchange's candle cache up to date before
// streaming is trusted.
package warmup

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// Cache is the slice of the Redis store the warmup engine reads and writes.
type Cache interface {
	CandleCount(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe) (int64, error)
	NewestCandle(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe) (*model.Candle, error)
	ReadInstanceStatus(ctx context.Context, exchangeID int) (*model.InstanceStatus, error)
	DumpExchangeCandles(ctx context.Context, exchangeID int) (int, error)
	AddCandleIfNewer(ctx context.Context, c model.Candle) (bool, error)
	WriteWarmupSchedule(ctx context.Context, sched *model.WarmupSchedule) error
	WriteWarmupStats(ctx context.Context, exchangeID int, stats *model.WarmupStats) error
}

const (
	// heartbeatStaleAfter: a status document older than this means the cache
	// was unattended long enough to distrust wholesale.
	heartbeatStaleAfter = 3 * time.Hour

	// sentinelStaleAfter: the newest sentinel 5m candle must be at most this
	// old. The comparison is strictly-greater: exactly 20 minutes passes.
	sentinelStaleAfter = 20 * time.Minute
)

// Decision is the cache-trust verdict.
type Decision struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

// Assessor decides whether the cached candles for this exchange are usable or
// must be dumped, using the sentinel symbol as a cheap pipeline health proxy.
type Assessor struct {
	cache Cache
	now   func() time.Time
}

// NewAssessor creates an Assessor. now is swappable for tests; nil means
// time.Now.
func NewAssessor(cache Cache, now func() time.Time) *Assessor {
	if now == nil {
		now = time.Now
	}
	return &Assessor{cache: cache, now: now}
}

// Assess produces the trust decision for one exchange.
func (a *Assessor) Assess(ctx context.Context, exchangeID int, sentinel string) (Decision, error) {
	status, err := a.cache.ReadInstanceStatus(ctx, exchangeID)
	if err != nil {
		return Decision{}, err
	}
	if status == nil {
		// The status key has a 45s TTL; a brief restart is not evidence of
		// bad data. Fall through to the sentinel check.
		log.Info().Str("component", "warmup").Int("exchange_id", exchangeID).
			Msg("no status key, falling through to sentinel check")
	} else if a.now().Sub(status.LastHeartbeat) > heartbeatStaleAfter {
		return Decision{Mode: model.ModeFullRefresh, Reason: "heartbeat stale"}, nil
	}

	newest, err := a.cache.NewestCandle(ctx, exchangeID, sentinel, model.TF5m)
	if err != nil {
		return Decision{}, err
	}
	if newest == nil {
		return Decision{Mode: model.ModeFullRefresh, Reason: "sentinel empty"}, nil
	}
	if newest.Age(a.now()) > sentinelStaleAfter {
		return Decision{Mode: model.ModeFullRefresh, Reason: "sentinel stale"}, nil
	}
	return Decision{Mode: model.ModeTargeted, Reason: "sentinel fresh"}, nil
}
