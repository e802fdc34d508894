package warmup

import (
	"time"

	"livermore/internal/model"
)

// DefaultTargetCount is the backfill depth per insufficient pair.
const DefaultTargetCount = 100

// BuildSchedule turns scan results into the persisted fetch plan. Entries are
// exactly the insufficient pairs, in scan order.
func BuildSchedule(exchangeID int, mode string, results []model.PairStatus, targetCount int) *model.WarmupSchedule {
	if targetCount <= 0 {
		targetCount = DefaultTargetCount
	}

	sched := &model.WarmupSchedule{
		ExchangeID: exchangeID,
		Mode:       mode,
		TotalPairs: len(results),
		Entries:    []model.WarmupEntry{},
		CreatedAt:  time.Now().UTC(),
	}
	for _, st := range results {
		if st.Sufficient {
			sched.SufficientPairs++
			continue
		}
		sched.Entries = append(sched.Entries, model.WarmupEntry{
			Symbol:      st.Symbol,
			Timeframe:   st.Timeframe,
			CachedCount: st.CachedCount,
			TargetCount: targetCount,
			Reason:      st.Reason,
		})
	}
	sched.NeedsFetching = len(sched.Entries)
	return sched
}
