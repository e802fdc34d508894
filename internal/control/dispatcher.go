// Package control receives operator commands over Redis pub/sub and drives
// the engine with them, one command in flight at a time.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// Engine is the instance surface the dispatcher drives.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	AddSymbols(ctx context.Context, symbols []string) error
	ForceBackfill(ctx context.Context, symbols []string) error
	Reset(ctx context.Context) error
	State() model.ConnectionState
}

// Bus is the command transport.
type Bus interface {
	SubscribeCommands(ctx context.Context, userID string, out chan<- model.ControlCommand) error
	PublishCommandResult(ctx context.Context, userID string, r *model.CommandResult) error
}

// Dispatcher consumes the command channel serially so state transitions stay
// deterministic.
type Dispatcher struct {
	userID string
	bus    Bus
	engine Engine
	now    func() time.Time
}

// New builds a dispatcher for one operator channel.
func New(userID string, bus Bus, engine Engine) *Dispatcher {
	return &Dispatcher{userID: userID, bus: bus, engine: engine, now: time.Now}
}

// Run subscribes and processes commands until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	cmds := make(chan model.ControlCommand, 16)
	if err := d.bus.SubscribeCommands(ctx, d.userID, cmds); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			d.Handle(ctx, cmd)
		}
	}
}

type symbolPayload struct {
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// Handle executes one command and publishes its result. Unknown types and
// handler failures become failed results, never a dead channel.
func (d *Dispatcher) Handle(ctx context.Context, cmd model.ControlCommand) {
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}
	log.Info().Str("component", "control").
		Str("type", cmd.Type).Str("correlation_id", cmd.CorrelationID).
		Msg("command received")

	err := d.dispatch(ctx, cmd)

	result := &model.CommandResult{
		CorrelationID: cmd.CorrelationID,
		Type:          cmd.Type,
		Success:       err == nil,
		State:         d.engine.State(),
		Timestamp:     d.now().UTC(),
	}
	if err != nil {
		result.Error = err.Error()
		log.Warn().Str("component", "control").
			Str("type", cmd.Type).Err(err).Msg("command failed")
	}

	if err := d.bus.PublishCommandResult(ctx, d.userID, result); err != nil {
		log.Warn().Str("component", "control").Err(err).Msg("result publish failed")
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd model.ControlCommand) error {
	switch cmd.Type {
	case model.CmdStart:
		return d.engine.Start(ctx)
	case model.CmdStop:
		return d.engine.Stop(ctx)
	case model.CmdAddSymbol:
		p, err := parsePayload(cmd.Payload)
		if err != nil {
			return err
		}
		if p.Symbol == "" {
			return fmt.Errorf("add-symbol: missing symbol")
		}
		return d.engine.AddSymbols(ctx, []string{p.Symbol})
	case model.CmdBulkAddSymbols:
		p, err := parsePayload(cmd.Payload)
		if err != nil {
			return err
		}
		if len(p.Symbols) == 0 {
			return fmt.Errorf("bulk-add-symbols: empty symbol list")
		}
		return d.engine.AddSymbols(ctx, p.Symbols)
	case model.CmdForceBackfill:
		p, err := parsePayload(cmd.Payload)
		if err != nil {
			return err
		}
		return d.engine.ForceBackfill(ctx, p.Symbols)
	case model.CmdReset:
		return d.engine.Reset(ctx)
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func parsePayload(raw json.RawMessage) (symbolPayload, error) {
	var p symbolPayload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("bad payload: %w", err)
	}
	return p, nil
}
