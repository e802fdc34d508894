// Package engine ties the per-exchange subsystems into one lifecycle: the
// adapter, warmup, boundary reconciliation, indicator scheduling and the
// instance registry. Commands arrive serially from the control dispatcher, so
// the engine never races against itself; only the background pipelines run
// concurrently.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/exchange"
	"livermore/internal/metrics"
	"livermore/internal/model"
	"livermore/internal/registry"
)

// Warmer runs the smart warmup pipeline.
type Warmer interface {
	Run(ctx context.Context, symbols []string, sentinel string, tfs []model.Timeframe) error
	RunForced(ctx context.Context, symbols []string, tfs []model.Timeframe) error
}

// Boundary is the per-timeframe gap repairer.
type Boundary interface {
	SetPairs(symbols []string, tfs []model.Timeframe)
	AddSymbol(symbol string)
	Run(ctx context.Context)
}

// Recomputer consumes candle closes and recomputes indicator values.
type Recomputer interface {
	Run(ctx context.Context, closes <-chan model.Candle)
	Trigger(symbol string, tf model.Timeframe, timestampMS int64)
}

// CandleWriter is the cache write path for streamed market data.
type CandleWriter interface {
	AddCandleIfNewer(ctx context.Context, c model.Candle) (bool, error)
	WriteTicker(ctx context.Context, t model.Ticker) error
}

// Symbols resolves the exchange's symbol universe and sentinel pair.
type Symbols interface {
	SymbolsByExchange(ctx context.Context, exchangeID int) ([]model.ExchangeSymbol, error)
	SentinelSymbol(ctx context.Context, exchangeID int) (string, error)
}

// Engine drives one exchange instance through its lifecycle.
type Engine struct {
	ex      *model.Exchange
	adapter exchange.Adapter
	cache   CandleWriter
	db      Symbols
	reg     *registry.Registry
	warmer  Warmer
	bound   Boundary
	recomp  Recomputer
	met     *metrics.Metrics // optional

	// OnConnectionChange fires on stream connect/disconnect (optional).
	OnConnectionChange func(connected bool)

	mu      sync.Mutex
	symbols []string
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles the engine. met may be nil.
func New(ex *model.Exchange, adapter exchange.Adapter, cache CandleWriter, db Symbols,
	reg *registry.Registry, warmer Warmer, bound Boundary, recomp Recomputer, met *metrics.Metrics) *Engine {
	return &Engine{
		ex:      ex,
		adapter: adapter,
		cache:   cache,
		db:      db,
		reg:     reg,
		warmer:  warmer,
		bound:   bound,
		recomp:  recomp,
		met:     met,
	}
}

// State reports the instance FSM state.
func (e *Engine) State() model.ConnectionState {
	return e.reg.FSM().State()
}

// Start walks idle -> starting -> warming -> active: resolve the symbol
// universe, connect, warm the cache, subscribe, then launch the background
// pipelines. The background pipelines outlive ctx; Stop tears them down.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.reg.FSM().TransitionTo(model.StateStarting); err != nil {
		return err
	}

	rows, err := e.db.SymbolsByExchange(ctx, e.ex.ID)
	if err != nil {
		return e.abort(ctx, fmt.Errorf("load symbols: %w", err))
	}
	if len(rows) == 0 {
		return e.abort(ctx, fmt.Errorf("exchange %s has no active symbols", e.ex.Name))
	}
	symbols := make([]string, len(rows))
	for i, r := range rows {
		symbols[i] = r.Symbol
	}
	sentinel, err := e.db.SentinelSymbol(ctx, e.ex.ID)
	if err != nil {
		return e.abort(ctx, fmt.Errorf("sentinel symbol: %w", err))
	}

	// Background pipelines get their own context so they survive the
	// command's deadline.
	runCtx, cancel := context.WithCancel(context.Background())

	if err := e.adapter.Connect(runCtx); err != nil {
		cancel()
		return e.abort(ctx, fmt.Errorf("connect: %w", err))
	}

	if err := e.reg.FSM().TransitionTo(model.StateWarming); err != nil {
		cancel()
		e.adapter.Disconnect()
		return err
	}
	if err := e.warmer.Run(ctx, symbols, sentinel, e.ex.SupportedTimeframes); err != nil {
		cancel()
		e.adapter.Disconnect()
		return e.abort(ctx, fmt.Errorf("warmup: %w", err))
	}

	if err := e.adapter.Subscribe(runCtx, symbols, e.ex.SupportedTimeframes); err != nil {
		cancel()
		e.adapter.Disconnect()
		return e.abort(ctx, fmt.Errorf("subscribe: %w", err))
	}

	e.mu.Lock()
	e.symbols = symbols
	e.runCtx = runCtx
	e.cancel = cancel
	e.mu.Unlock()
	e.reg.SetSymbolCount(len(symbols))
	if e.met != nil {
		e.met.SubscribedPairs.Set(float64(len(symbols)))
	}

	closes := make(chan model.Candle, 256)
	e.bound.SetPairs(symbols, e.ex.SupportedTimeframes)
	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.recomp.Run(runCtx, closes)
	}()
	go func() {
		defer e.wg.Done()
		e.pump(runCtx, closes)
	}()
	go func() {
		defer e.wg.Done()
		e.bound.Run(runCtx)
	}()

	if err := e.reg.FSM().TransitionTo(model.StateActive); err != nil {
		return err
	}
	now := time.Now().UTC()
	e.reg.SetConnected(&now)
	log.Info().Str("component", "engine").Str("exchange", e.ex.Name).
		Int("symbols", len(symbols)).Msg("instance active")
	return nil
}

// Stop walks active -> stopping -> stopped, draining the pipelines before the
// final transition.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.reg.FSM().TransitionTo(model.StateStopping); err != nil {
		return err
	}

	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := e.adapter.Disconnect(); err != nil {
		log.Warn().Str("component", "engine").Err(err).Msg("disconnect")
	}
	e.wg.Wait()

	e.reg.SetConnected(nil)
	if e.met != nil {
		e.met.SubscribedPairs.Set(0)
	}
	return e.reg.FSM().TransitionTo(model.StateStopped)
}

// AddSymbols subscribes additional pairs on a running instance and backfills
// their history in the background. Already-known symbols are skipped.
func (e *Engine) AddSymbols(ctx context.Context, symbols []string) error {
	if st := e.reg.FSM().State(); st != model.StateActive {
		return fmt.Errorf("add symbols in state %s: %w", st, registry.ErrInvalidTransition)
	}

	e.mu.Lock()
	known := make(map[string]bool, len(e.symbols))
	for _, s := range e.symbols {
		known[s] = true
	}
	var fresh []string
	for _, s := range symbols {
		if !known[s] {
			fresh = append(fresh, s)
			e.symbols = append(e.symbols, s)
		}
	}
	total := len(e.symbols)
	runCtx := e.runCtx
	e.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}

	if err := e.adapter.Subscribe(ctx, fresh, e.ex.SupportedTimeframes); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for _, s := range fresh {
		e.bound.AddSymbol(s)
	}
	e.reg.SetSymbolCount(total)
	if e.met != nil {
		e.met.SubscribedPairs.Set(float64(total))
	}

	// Targeted backfill for the new pairs only; live data is already flowing.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		bctx, bcancel := context.WithTimeout(runCtx, 10*time.Minute)
		defer bcancel()
		if err := e.warmer.RunForced(bctx, fresh, e.ex.SupportedTimeframes); err != nil {
			log.Error().Str("component", "engine").Err(err).Msg("add-symbol backfill failed")
		}
	}()
	return nil
}

// ForceBackfill re-downloads history for the given symbols, or the whole
// universe when symbols is nil. The instance must be active.
func (e *Engine) ForceBackfill(ctx context.Context, symbols []string) error {
	if st := e.reg.FSM().State(); st != model.StateActive {
		return fmt.Errorf("force backfill in state %s: %w", st, registry.ErrInvalidTransition)
	}
	if symbols == nil {
		e.mu.Lock()
		symbols = append([]string(nil), e.symbols...)
		e.mu.Unlock()
	}
	return e.warmer.RunForced(ctx, symbols, e.ex.SupportedTimeframes)
}

// Reset forces the FSM back to idle from any state, tearing down whatever is
// running. The recovery escape hatch; emits no lifecycle notification.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
		e.adapter.Disconnect()
		e.wg.Wait()
	}
	e.reg.SetConnected(nil)
	e.reg.FSM().ResetToIdle()
	return nil
}

// abort records the failure and resets to idle so the operator can retry.
func (e *Engine) abort(ctx context.Context, err error) error {
	e.reg.RecordError(ctx, err.Error())
	e.reg.FSM().ResetToIdle()
	return err
}

// pump drains adapter events into the cache and the close channel.
func (e *Engine) pump(ctx context.Context, closes chan<- model.Candle) {
	defer close(closes)
	events := e.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(ctx, ev, closes)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev exchange.Event, closes chan<- model.Candle) {
	switch ev.Type {
	case exchange.EventCandleClose, exchange.EventCandleUpdate:
		accepted, err := e.cache.AddCandleIfNewer(ctx, *ev.Candle)
		if err != nil {
			log.Error().Str("component", "engine").Err(err).
				Str("symbol", ev.Candle.Symbol).Msg("candle write failed")
			return
		}
		if !accepted {
			if e.met != nil {
				e.met.CandlesDropped.Inc()
			}
			return
		}
		if e.met != nil {
			e.met.CandleWrites.WithLabelValues(string(ev.Candle.Timeframe)).Inc()
		}
		if ev.Type == exchange.EventCandleClose {
			if e.met != nil {
				e.met.ClosesPublished.Inc()
			}
			select {
			case closes <- *ev.Candle:
			case <-ctx.Done():
			}
		}

	case exchange.EventTicker:
		if err := e.cache.WriteTicker(ctx, *ev.Ticker); err != nil {
			log.Error().Str("component", "engine").Err(err).
				Str("symbol", ev.Ticker.Symbol).Msg("ticker write failed")
		}

	case exchange.EventConnected:
		if e.OnConnectionChange != nil {
			e.OnConnectionChange(true)
		}
		log.Info().Str("component", "engine").Str("exchange", e.ex.Name).Msg("stream connected")

	case exchange.EventDisconnected:
		if e.OnConnectionChange != nil {
			e.OnConnectionChange(false)
		}
		log.Warn().Str("component", "engine").Str("exchange", e.ex.Name).Msg("stream disconnected")

	case exchange.EventReconnecting:
		if e.met != nil {
			e.met.WSReconnects.Inc()
		}
		log.Warn().Str("component", "engine").Int("attempt", ev.Attempt).Msg("stream reconnecting")

	case exchange.EventError:
		e.reg.RecordError(ctx, ev.Err.Error())
	}
}
