package indicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// historyDepth is how many candles each recomputation reads; comfortably
// above every calculator's minimum.
const historyDepth = 100

// Cache is the slice of the Redis store the scheduler needs.
type Cache interface {
	RecentCandles(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe, n int) ([]model.Candle, error)
	WriteIndicator(ctx context.Context, v model.IndicatorValue) error
}

// Sink receives every freshly computed value, synchronously.
type Sink interface {
	Evaluate(ctx context.Context, v model.IndicatorValue) error
}

type job struct {
	symbol string
	tf     model.Timeframe
}

// Scheduler recomputes indicator values on candle closes and repair triggers.
// The queue coalesces per pair: a burst of closes for one (symbol, timeframe)
// collapses to a single recomputation, so a slow calculator can never grow
// the queue beyond the pair universe.
type Scheduler struct {
	exchangeID int
	cache      Cache
	calc       Calculator
	sink       Sink

	// OnCompute fires after every successful recomputation (optional).
	OnCompute func(symbol string, tf model.Timeframe, dur time.Duration)

	mu      sync.Mutex
	order   []job
	pending map[job]bool
	lastTS  map[job]int64
	wake    chan struct{}
}

// NewScheduler wires the recompute loop for one exchange.
func NewScheduler(exchangeID int, cache Cache, calc Calculator, sink Sink) *Scheduler {
	return &Scheduler{
		exchangeID: exchangeID,
		cache:      cache,
		calc:       calc,
		sink:       sink,
		pending:    make(map[job]bool),
		lastTS:     make(map[job]int64),
		wake:       make(chan struct{}, 1),
	}
}

// Run consumes close events and drains the recompute queue until ctx ends.
func (s *Scheduler) Run(ctx context.Context, closes <-chan model.Candle) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.work(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case c, ok := <-closes:
			if !ok {
				wg.Wait()
				return
			}
			s.enqueue(job{symbol: c.Symbol, tf: c.Timeframe})
		}
	}
}

// Trigger requests a recomputation after a boundary repair. Repairs at or
// before the current value's timestamp invalidate it; anything newer is
// already covered by the close channel.
func (s *Scheduler) Trigger(symbol string, tf model.Timeframe, timestampMS int64) {
	j := job{symbol: symbol, tf: tf}
	s.mu.Lock()
	last, computed := s.lastTS[j]
	s.mu.Unlock()
	if computed && timestampMS > last {
		return
	}
	s.enqueue(j)
}

func (s *Scheduler) enqueue(j job) {
	s.mu.Lock()
	if !s.pending[j] {
		s.pending[j] = true
		s.order = append(s.order, j)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dequeue() (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return job{}, false
	}
	j := s.order[0]
	s.order = s.order[1:]
	delete(s.pending, j)
	return j, true
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		j, ok := s.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		if err := s.recompute(ctx, j); err != nil {
			log.Warn().Str("component", "indicator").
				Str("symbol", j.symbol).Str("timeframe", string(j.tf)).
				Err(err).Msg("recompute failed")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// recompute reads the series, runs the calculator, replaces the cached value
// and hands it to the sink synchronously.
func (s *Scheduler) recompute(ctx context.Context, j job) error {
	started := time.Now()
	candles, err := s.cache.RecentCandles(ctx, s.exchangeID, j.symbol, j.tf, historyDepth)
	if err != nil {
		return fmt.Errorf("read candles: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}

	v, err := s.calc.Compute(candles)
	if err != nil {
		return fmt.Errorf("compute: %w", err)
	}
	v.ExchangeID = s.exchangeID
	v.Symbol = j.symbol
	v.Timeframe = j.tf

	if err := s.cache.WriteIndicator(ctx, v); err != nil {
		return fmt.Errorf("write indicator: %w", err)
	}

	s.mu.Lock()
	s.lastTS[j] = v.TimestampMS
	s.mu.Unlock()
	if s.OnCompute != nil {
		s.OnCompute(j.symbol, j.tf, time.Since(started))
	}

	if s.sink != nil {
		if err := s.sink.Evaluate(ctx, v); err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
	}
	return nil
}
