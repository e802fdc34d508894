// Package notification delivers operator-facing messages (alerts, lifecycle
// changes) to external channels. Delivery is always fire-and-forget from the
// caller's point of view; failures are reported, never fatal.
package notification

import (
	"context"

	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// Notifier is the delivery backend contract.
type Notifier interface {
	Notify(ctx context.Context, a model.Alert) error
	NotifyTransition(ctx context.Context, st *model.InstanceStatus, from, to model.ConnectionState) error
}

// LogNotifier writes notifications to the process log; the default when no
// webhook is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Notify(_ context.Context, a model.Alert) error {
	log.Info().Str("component", "notify").
		Str("symbol", a.Symbol).Str("timeframe", string(a.Timeframe)).
		Str("label", a.TriggerLabel).Float64("price", a.Price).
		Msg("alert")
	return nil
}

func (n *LogNotifier) NotifyTransition(_ context.Context, st *model.InstanceStatus, from, to model.ConnectionState) error {
	log.Info().Str("component", "notify").
		Str("exchange", st.ExchangeName).
		Str("from", string(from)).Str("to", string(to)).
		Msg("state transition")
	return nil
}
