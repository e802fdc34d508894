// Package reconcile repairs stream gaps: at every timeframe boundary it
// REST-fetches the last few closed candles and replays them through the
// versioned writer, which is the authoritative truth source for closed
// candles.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/exchange"
	"livermore/internal/model"
)

// DefaultDepth is how many closed candles each boundary fetch pulls.
const DefaultDepth = 3

// maxAttempts bounds retries within a single boundary; the next boundary
// covers anything still missing.
const maxAttempts = 3

// Fetcher is the REST side of the exchange adapter.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// Writer is the versioned candle writer.
type Writer interface {
	AddCandleIfNewer(ctx context.Context, c model.Candle) (bool, error)
}

// Reconciler owns one boundary timer per subscribed timeframe.
type Reconciler struct {
	exchangeID int
	fetcher    Fetcher
	writer     Writer
	backoff    exchange.Backoff
	depth      int

	// OnRepair fires for every accepted write of a candle older than the
	// just-closed bucket, so the indicator side can recompute.
	OnRepair func(symbol string, tf model.Timeframe, timestampMS int64)

	mu    sync.Mutex
	pairs map[model.Timeframe][]string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Reconciler for one exchange.
func New(exchangeID int, fetcher Fetcher, writer Writer) *Reconciler {
	return &Reconciler{
		exchangeID: exchangeID,
		fetcher:    fetcher,
		writer:     writer,
		backoff:    exchange.DefaultBackoff,
		depth:      DefaultDepth,
		pairs:      make(map[model.Timeframe][]string),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetPairs replaces the subscribed (symbol, timeframe) universe.
func (r *Reconciler) SetPairs(symbols []string, tfs []model.Timeframe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = make(map[model.Timeframe][]string, len(tfs))
	for _, tf := range tfs {
		cp := make([]string, len(symbols))
		copy(cp, symbols)
		sort.Strings(cp)
		r.pairs[tf] = cp
	}
}

// AddSymbol subscribes one symbol on every tracked timeframe.
func (r *Reconciler) AddSymbol(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tf, syms := range r.pairs {
		i := sort.SearchStrings(syms, symbol)
		if i < len(syms) && syms[i] == symbol {
			continue
		}
		syms = append(syms, "")
		copy(syms[i+1:], syms[i:])
		syms[i] = symbol
		r.pairs[tf] = syms
	}
}

func (r *Reconciler) symbolsFor(tf model.Timeframe) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	syms := r.pairs[tf]
	cp := make([]string, len(syms))
	copy(cp, syms)
	return cp
}

func (r *Reconciler) timeframes() []model.Timeframe {
	r.mu.Lock()
	defer r.mu.Unlock()
	tfs := make([]model.Timeframe, 0, len(r.pairs))
	for tf := range r.pairs {
		tfs = append(tfs, tf)
	}
	return tfs
}

// Run starts one boundary loop per timeframe and blocks until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, tf := range r.timeframes() {
		wg.Add(1)
		go func(tf model.Timeframe) {
			defer wg.Done()
			r.loop(ctx, tf)
		}(tf)
	}
	wg.Wait()
}

// boundaryGrace delays the fetch slightly past the boundary so the venue's
// REST endpoint has sealed the bucket.
const boundaryGrace = 2 * time.Second

func (r *Reconciler) loop(ctx context.Context, tf model.Timeframe) {
	for {
		now := r.now()
		wait := tf.NextBoundary(now).Sub(now) + boundaryGrace
		if err := r.sleep(ctx, wait); err != nil {
			return
		}
		r.ReconcileBoundary(ctx, tf)
	}
}

// ReconcileBoundary runs one repair round for every symbol on tf. Per-symbol
// failures are retried with backoff, bounded per boundary; the next boundary
// retries anything still broken.
func (r *Reconciler) ReconcileBoundary(ctx context.Context, tf model.Timeframe) {
	closedBucket := tf.AlignMillis(r.now().UnixMilli()) - tf.Millis()
	for _, sym := range r.symbolsFor(tf) {
		if ctx.Err() != nil {
			return
		}
		if err := r.reconcilePair(ctx, sym, tf, closedBucket); err != nil {
			log.Warn().Str("component", "reconcile").
				Str("symbol", sym).Str("timeframe", string(tf)).Err(err).
				Msg("boundary repair failed, deferring to next boundary")
		}
	}
}

func (r *Reconciler) reconcilePair(ctx context.Context, symbol string, tf model.Timeframe, closedBucket int64) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.backoff.Next(attempt-1)); err != nil {
				return err
			}
		}

		candles, err := r.fetcher.FetchCandles(ctx, symbol, tf, r.depth)
		if err != nil {
			if apiErr, ok := exchange.AsAPIError(err); ok && !apiErr.Retryable() {
				return err
			}
			lastErr = err
			continue
		}

		for _, c := range candles {
			if !c.Closed {
				continue
			}
			wrote, err := r.writer.AddCandleIfNewer(ctx, c)
			if err != nil {
				return err
			}
			if !wrote {
				continue
			}
			if c.TimestampMS < closedBucket {
				log.Info().Str("component", "reconcile").
					Str("symbol", symbol).Str("timeframe", string(tf)).
					Int64("timestamp_ms", c.TimestampMS).
					Msg("gap repaired")
			}
			if r.OnRepair != nil {
				r.OnRepair(symbol, tf, c.TimestampMS)
			}
		}
		return nil
	}
	return lastErr
}
