package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// Store is the persistence side: idempotent alert inserts and notification
// bookkeeping.
type Store interface {
	InsertAlert(ctx context.Context, a *model.Alert) (int64, error)
	MarkAlertNotified(ctx context.Context, id int64, sent bool, notifyErr string) error
}

// Bus publishes alerts to the cross-exchange channel.
type Bus interface {
	PublishAlert(ctx context.Context, a model.BusAlert) error
}

// Prices resolves the trade price stamped on an alert.
type Prices interface {
	ReadTicker(ctx context.Context, exchangeID int, symbol string) (*model.Ticker, error)
	NewestCandle(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe) (*model.Candle, error)
}

// Notifier delivers an alert to an external channel, e.g. Discord.
type Notifier interface {
	Notify(ctx context.Context, a model.Alert) error
}

// Evaluator compares each new indicator value against carried state, applies
// the rule chain and fans out produced alerts. Adding a rule never touches
// this type.
type Evaluator struct {
	exchangeID   int
	exchangeName string
	store        Store
	bus          Bus
	prices       Prices
	notifier     Notifier
	rules        []Rule

	// OnAlert fires for every non-duplicate alert (optional).
	OnAlert func(a *model.Alert)

	prev map[string]*model.IndicatorValue
	now  func() time.Time
}

// NewEvaluator builds the evaluator for one exchange. notifier may be nil.
func NewEvaluator(exchangeID int, exchangeName string, store Store, bus Bus, prices Prices, notifier Notifier, rules []Rule) *Evaluator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Evaluator{
		exchangeID:   exchangeID,
		exchangeName: exchangeName,
		store:        store,
		bus:          bus,
		prices:       prices,
		notifier:     notifier,
		rules:        rules,
		prev:         make(map[string]*model.IndicatorValue),
		now:          time.Now,
	}
}

// Evaluate runs the rule chain for one fresh value. First matching rule wins;
// the chain produces zero or one alert per value.
func (e *Evaluator) Evaluate(ctx context.Context, v model.IndicatorValue) error {
	key := v.Symbol + ":" + string(v.Timeframe) + ":" + v.Type
	prev := e.prev[key]
	cp := v
	e.prev[key] = &cp

	if !v.Params.Seeded {
		return nil
	}

	var alert *model.Alert
	for _, rule := range e.rules {
		a, ok := rule.Evaluate(prev, &cp)
		if !ok {
			continue
		}
		alert = a
		break
	}
	if alert == nil {
		return nil
	}

	alert.ExchangeID = e.exchangeID
	alert.Symbol = v.Symbol
	alert.Timeframe = v.Timeframe
	alert.TriggeredAt = e.now().UTC()
	alert.TriggeredAtEpoch = alert.TriggeredAt.UnixMilli()
	alert.Price = e.lookupPrice(ctx, v.Symbol, v.Timeframe)
	if alert.Details == nil {
		alert.Details = map[string]any{"stage": v.Params.Stage, "n_eff": v.Params.NEff}
	}

	return e.emit(ctx, alert)
}

// emit persists, publishes and notifies. The insert is idempotent: a zero id
// means this alert already exists and nothing further is fired.
func (e *Evaluator) emit(ctx context.Context, a *model.Alert) error {
	id, err := e.store.InsertAlert(ctx, a)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	if id == 0 {
		return nil
	}
	a.ID = id
	if e.OnAlert != nil {
		e.OnAlert(a)
	}

	if err := e.bus.PublishAlert(ctx, model.BusAlert{
		Alert:              *a,
		SourceExchangeID:   e.exchangeID,
		SourceExchangeName: e.exchangeName,
	}); err != nil {
		log.Warn().Str("component", "alerts").Int64("alert_id", id).Err(err).
			Msg("bus publish failed")
	}

	if e.notifier != nil {
		go e.notify(*a)
	}
	return nil
}

// notify runs off the critical path; delivery state lands in the row.
func (e *Evaluator) notify(a model.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nerr := e.notifier.Notify(ctx, a)
	errMsg := ""
	if nerr != nil {
		errMsg = nerr.Error()
		log.Warn().Str("component", "alerts").Int64("alert_id", a.ID).Err(nerr).
			Msg("notification failed")
	}
	if err := e.store.MarkAlertNotified(ctx, a.ID, nerr == nil, errMsg); err != nil {
		log.Warn().Str("component", "alerts").Int64("alert_id", a.ID).Err(err).
			Msg("notification bookkeeping failed")
	}
}

func (e *Evaluator) lookupPrice(ctx context.Context, symbol string, tf model.Timeframe) float64 {
	if t, err := e.prices.ReadTicker(ctx, e.exchangeID, symbol); err == nil && t != nil {
		return t.Price
	}
	if c, err := e.prices.NewestCandle(ctx, e.exchangeID, symbol, tf); err == nil && c != nil {
		return c.Close
	}
	return 0
}
