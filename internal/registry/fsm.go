// Package registry owns the instance lifecycle: the connection-state machine,
// the heartbeat that advertises presence, and the per-exchange activity
// stream.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// ErrInvalidTransition rejects a state change the graph does not allow.
var ErrInvalidTransition = errors.New("invalid_transition")

// validTransitions is the state graph. reset_to_idle is handled separately:
// it is legal from every state.
var validTransitions = map[model.ConnectionState][]model.ConnectionState{
	model.StateIdle:     {model.StateStarting},
	model.StateStarting: {model.StateWarming},
	model.StateWarming:  {model.StateActive},
	model.StateActive:   {model.StateStopping},
	model.StateStopping: {model.StateStopped},
	model.StateStopped:  {model.StateIdle},
}

// Transition describes one applied state change.
type Transition struct {
	From  model.ConnectionState
	To    model.ConnectionState
	At    time.Time
	Reset bool
}

// FSM serialises connection-state changes for one instance. Hooks fire after
// a transition is applied, outside the lock.
type FSM struct {
	mu    sync.Mutex
	state model.ConnectionState
	since time.Time

	// OnTransition observes applied changes; resets arrive with Reset=true so
	// observers can skip notifications for them.
	OnTransition func(tr Transition)

	now func() time.Time
}

// NewFSM starts in idle.
func NewFSM() *FSM {
	return &FSM{state: model.StateIdle, since: time.Now(), now: time.Now}
}

// State returns the current state.
func (f *FSM) State() model.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Since returns when the current state was entered.
func (f *FSM) Since() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since
}

// TransitionTo applies one edge of the graph. Invalid edges are rejected with
// ErrInvalidTransition and leave no side effects.
func (f *FSM) TransitionTo(to model.ConnectionState) error {
	f.mu.Lock()
	from := f.state
	if !allowed(from, to) {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	at := f.now()
	f.state = to
	f.since = at
	f.mu.Unlock()

	log.Info().Str("component", "registry").
		Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	if f.OnTransition != nil {
		f.OnTransition(Transition{From: from, To: to, At: at})
	}
	return nil
}

// ResetToIdle forces the machine back to idle from any state. Recovery path;
// observers see Reset=true and must not notify.
func (f *FSM) ResetToIdle() {
	f.mu.Lock()
	from := f.state
	at := f.now()
	f.state = model.StateIdle
	f.since = at
	f.mu.Unlock()

	log.Info().Str("component", "registry").
		Str("from", string(from)).Msg("reset to idle")
	if f.OnTransition != nil {
		f.OnTransition(Transition{From: from, To: model.StateIdle, At: at, Reset: true})
	}
}

func allowed(from, to model.ConnectionState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
