package warmup

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// MinIndicatorCandles is the smallest series the derived-value calculator
// accepts; anything below needs a backfill.
const MinIndicatorCandles = 52

// stalenessThresholds is the maximum newest-candle age per timeframe, in ms.
// 5m and 1m share one hour: they are gap-verified by boundary reconciliation,
// not by staleness.
var stalenessThresholds = map[model.Timeframe]int64{
	model.TF1d:  90_000_000,
	model.TF4h:  18_000_000,
	model.TF1h:  7_200_000,
	model.TF30m: 5_400_000,
	model.TF15m: 2_700_000,
	model.TF5m:  3_600_000,
	model.TF1m:  3_600_000,
}

// Scanner determines per (symbol, timeframe) whether the cached candles are
// sufficient and fresh.
type Scanner struct {
	cache Cache
	now   func() time.Time
}

// NewScanner creates a Scanner. now defaults to time.Now.
func NewScanner(cache Cache, now func() time.Time) *Scanner {
	if now == nil {
		now = time.Now
	}
	return &Scanner{cache: cache, now: now}
}

// checkPair evaluates one series against the count and freshness thresholds.
func (s *Scanner) checkPair(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe) (model.PairStatus, error) {
	st := model.PairStatus{Symbol: symbol, Timeframe: tf}

	count, err := s.cache.CandleCount(ctx, exchangeID, symbol, tf)
	if err != nil {
		return st, err
	}
	st.CachedCount = count
	if count == 0 {
		st.Reason = model.ReasonEmpty
		return st, nil
	}

	newest, err := s.cache.NewestCandle(ctx, exchangeID, symbol, tf)
	if err != nil {
		return st, err
	}
	if newest != nil {
		st.NewestAgeMS = s.now().UnixMilli() - newest.TimestampMS
	}

	switch {
	case count < MinIndicatorCandles:
		st.Reason = model.ReasonLowCount
	case st.NewestAgeMS > stalenessThresholds[tf]:
		st.Reason = model.ReasonStale
	default:
		st.Sufficient = true
		st.Reason = model.ReasonOK
	}
	return st, nil
}

// ScanTiered checks the sentinel first for every timeframe; a failed sentinel
// marks all symbols as needing that timeframe without per-symbol queries,
// because a failed sentinel means the pipeline was not producing that
// timeframe at all.
func (s *Scanner) ScanTiered(ctx context.Context, exchangeID int, sentinel string, symbols []string, tfs []model.Timeframe) ([]model.PairStatus, error) {
	requested := make(map[model.Timeframe]bool, len(tfs))
	for _, tf := range tfs {
		requested[tf] = true
	}

	var results []model.PairStatus
	for _, tf := range model.ScanOrder {
		if !requested[tf] {
			continue
		}

		sentinelStatus, err := s.checkPair(ctx, exchangeID, sentinel, tf)
		if err != nil {
			return nil, err
		}

		if !sentinelStatus.Sufficient {
			log.Info().Str("component", "warmup").Str("timeframe", string(tf)).
				Str("reason", sentinelStatus.Reason).
				Msg("sentinel failed, marking whole timeframe")
			for _, sym := range symbols {
				st := model.PairStatus{
					Symbol:    sym,
					Timeframe: tf,
					Reason:    sentinelStatus.Reason,
				}
				if sym == sentinel {
					st = sentinelStatus
				}
				results = append(results, st)
			}
			continue
		}

		for _, sym := range symbols {
			if sym == sentinel {
				results = append(results, sentinelStatus)
				continue
			}
			st, err := s.checkPair(ctx, exchangeID, sym, tf)
			if err != nil {
				return nil, err
			}
			results = append(results, st)
		}
	}
	return results, nil
}

// ScanFullRefresh emits every pair as insufficient with reason "empty"; it
// runs after a dump, so nothing is worth querying.
func (s *Scanner) ScanFullRefresh(symbols []string, tfs []model.Timeframe) []model.PairStatus {
	results := make([]model.PairStatus, 0, len(symbols)*len(tfs))
	for _, tf := range model.ScanOrder {
		for _, requested := range tfs {
			if requested != tf {
				continue
			}
			for _, sym := range symbols {
				results = append(results, model.PairStatus{
					Symbol:    sym,
					Timeframe: tf,
					Reason:    model.ReasonEmpty,
				})
			}
		}
	}
	return results
}
