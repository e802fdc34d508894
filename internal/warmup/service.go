package warmup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/exchange"
	"livermore/internal/model"
)

// Fetcher is the REST side of the exchange adapter.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// Service orchestrates one warmup run:
// assess -> (dump) -> scan -> build -> execute, publishing progress stats
// after every batch.
type Service struct {
	exchangeID int
	cache      Cache
	fetcher    Fetcher
	assessor   *Assessor
	scanner    *Scanner

	// Hooks for metrics (optional).
	OnFetch    func(symbol string, tf model.Timeframe, err error)
	OnComplete func(stats *model.WarmupStats)

	batchSize   int
	batchDelay  time.Duration
	targetCount int
	now         func() time.Time
}

// NewService wires the warmup pipeline for one exchange.
func NewService(exchangeID int, cache Cache, fetcher Fetcher) *Service {
	return &Service{
		exchangeID:  exchangeID,
		cache:       cache,
		fetcher:     fetcher,
		assessor:    NewAssessor(cache, nil),
		scanner:     NewScanner(cache, nil),
		batchSize:   5,
		batchDelay:  time.Second,
		targetCount: DefaultTargetCount,
		now:         time.Now,
	}
}

// Run executes the full pipeline. A cancelled ctx stops cooperatively: the
// in-flight batch drains, no new batch starts.
func (s *Service) Run(ctx context.Context, symbols []string, sentinel string, tfs []model.Timeframe) error {
	stats := &model.WarmupStats{
		Status:   model.WarmupAssessing,
		Failures: []model.WarmupFailure{},
	}
	s.publish(ctx, stats)

	decision, err := s.assessor.Assess(ctx, s.exchangeID, sentinel)
	if err != nil {
		return s.fail(ctx, stats, fmt.Errorf("assess: %w", err))
	}
	stats.Mode = decision.Mode
	log.Info().Str("component", "warmup").Int("exchange_id", s.exchangeID).
		Str("mode", decision.Mode).Str("reason", decision.Reason).Msg("cache trust decided")

	var results []model.PairStatus
	if decision.Mode == model.ModeFullRefresh {
		stats.Status = model.WarmupDumping
		s.publish(ctx, stats)
		if _, err := s.cache.DumpExchangeCandles(ctx, s.exchangeID); err != nil {
			return s.fail(ctx, stats, fmt.Errorf("dump: %w", err))
		}

		stats.Status = model.WarmupScanning
		s.publish(ctx, stats)
		results = s.scanner.ScanFullRefresh(symbols, tfs)
	} else {
		stats.Status = model.WarmupScanning
		s.publish(ctx, stats)
		results, err = s.scanner.ScanTiered(ctx, s.exchangeID, sentinel, symbols, tfs)
		if err != nil {
			return s.fail(ctx, stats, fmt.Errorf("scan: %w", err))
		}
	}

	sched := BuildSchedule(s.exchangeID, decision.Mode, results, s.targetCount)
	if err := s.cache.WriteWarmupSchedule(ctx, sched); err != nil {
		return s.fail(ctx, stats, fmt.Errorf("persist schedule: %w", err))
	}

	// Warm-restart optimisation: a fresh cache performs no backfill at all.
	if sched.NeedsFetching == 0 {
		stats.Status = model.WarmupComplete
		stats.PercentComplete = 100
		s.publish(ctx, stats)
		if s.OnComplete != nil {
			s.OnComplete(stats)
		}
		return nil
	}

	stats.Status = model.WarmupFetching
	stats.TotalPairs = sched.NeedsFetching
	s.publish(ctx, stats)

	if err := s.execute(ctx, sched, stats); err != nil {
		return s.fail(ctx, stats, err)
	}

	stats.Status = model.WarmupComplete
	stats.PercentComplete = 100
	stats.ETAMS = 0
	stats.CurrentSymbol, stats.CurrentTimeframe = "", ""
	stats.NextSymbol, stats.NextTimeframe = "", ""
	s.publish(ctx, stats)
	if s.OnComplete != nil {
		s.OnComplete(stats)
	}
	return nil
}

// RunForced backfills the given pairs unconditionally, skipping assessment and
// staleness scanning. Used by the force_backfill command.
func (s *Service) RunForced(ctx context.Context, symbols []string, tfs []model.Timeframe) error {
	stats := &model.WarmupStats{
		Status:   model.WarmupScanning,
		Mode:     model.ModeFullRefresh,
		Failures: []model.WarmupFailure{},
	}
	s.publish(ctx, stats)

	results := s.scanner.ScanFullRefresh(symbols, tfs)
	sched := BuildSchedule(s.exchangeID, model.ModeFullRefresh, results, s.targetCount)
	if err := s.cache.WriteWarmupSchedule(ctx, sched); err != nil {
		return s.fail(ctx, stats, fmt.Errorf("persist schedule: %w", err))
	}

	stats.Status = model.WarmupFetching
	stats.TotalPairs = sched.NeedsFetching
	s.publish(ctx, stats)

	if err := s.execute(ctx, sched, stats); err != nil {
		return s.fail(ctx, stats, err)
	}

	stats.Status = model.WarmupComplete
	stats.PercentComplete = 100
	stats.ETAMS = 0
	stats.CurrentSymbol, stats.CurrentTimeframe = "", ""
	stats.NextSymbol, stats.NextTimeframe = "", ""
	s.publish(ctx, stats)
	if s.OnComplete != nil {
		s.OnComplete(stats)
	}
	return nil
}

// execute iterates schedule entries in batches, issuing the REST calls of one
// batch concurrently. Per-entry failures are captured but never fail a batch.
func (s *Service) execute(ctx context.Context, sched *model.WarmupSchedule, stats *model.WarmupStats) error {
	entries := sched.Entries
	batchSize := s.batchSize
	started := s.now()

	for start := 0; start < len(entries); start += batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]

		var (
			mu          sync.Mutex
			rateLimited int
			wg          sync.WaitGroup
		)
		for _, entry := range batch {
			wg.Add(1)
			go func(e model.WarmupEntry) {
				defer wg.Done()
				err := s.fetchEntry(ctx, e)
				if s.OnFetch != nil {
					s.OnFetch(e.Symbol, e.Timeframe, err)
				}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					stats.FailedPairs++
					stats.Failures = append(stats.Failures, model.WarmupFailure{
						Symbol: e.Symbol, Timeframe: e.Timeframe, Error: err.Error(),
					})
					if isRateLimited(err) {
						rateLimited++
					}
					return
				}
				stats.CompletedPairs++
			}(entry)
		}
		wg.Wait()

		// Sustained 429s: shrink the batch so the venue gets headroom.
		if rateLimited*2 >= len(batch) && batchSize > 1 {
			batchSize /= 2
			log.Warn().Str("component", "warmup").Int("batch_size", batchSize).
				Msg("rate limited, reducing batch size")
		}

		done := stats.CompletedPairs + stats.FailedPairs
		stats.PercentComplete = 100 * float64(done) / float64(len(entries))
		if elapsed := s.now().Sub(started); elapsed > 0 && done > 0 {
			rate := float64(done) / float64(elapsed.Milliseconds())
			stats.ETAMS = int64(float64(len(entries)-done) / rate)
		}
		last := batch[len(batch)-1]
		stats.CurrentSymbol, stats.CurrentTimeframe = last.Symbol, last.Timeframe
		if end < len(entries) {
			stats.NextSymbol, stats.NextTimeframe = entries[end].Symbol, entries[end].Timeframe
		} else {
			stats.NextSymbol, stats.NextTimeframe = "", ""
		}
		s.publish(ctx, stats)

		if end < len(entries) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.batchDelay):
			}
		}
	}
	return nil
}

// fetchEntry pulls target-count candles and feeds them through the versioned
// writer; the writer discards anything the stream already delivered.
func (s *Service) fetchEntry(ctx context.Context, e model.WarmupEntry) error {
	candles, err := s.fetcher.FetchCandles(ctx, e.Symbol, e.Timeframe, e.TargetCount)
	if err != nil {
		return err
	}
	for _, c := range candles {
		if _, err := s.cache.AddCandleIfNewer(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, stats *model.WarmupStats) {
	if err := s.cache.WriteWarmupStats(ctx, s.exchangeID, stats); err != nil {
		log.Warn().Str("component", "warmup").Err(err).Msg("stats publish failed")
	}
}

func (s *Service) fail(ctx context.Context, stats *model.WarmupStats, err error) error {
	stats.Status = model.WarmupError
	stats.Error = err.Error()
	s.publish(ctx, stats)
	return err
}

func isRateLimited(err error) bool {
	if apiErr, ok := exchange.AsAPIError(err); ok {
		return apiErr.Kind == exchange.KindRateLimited
	}
	return false
}
