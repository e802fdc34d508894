package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

func TestFSMHappyPath(t *testing.T) {
	f := NewFSM()
	path := []model.ConnectionState{
		model.StateStarting, model.StateWarming, model.StateActive,
		model.StateStopping, model.StateStopped, model.StateIdle,
	}
	for _, s := range path {
		require.NoError(t, f.TransitionTo(s))
		assert.Equal(t, s, f.State())
	}
}

func TestFSMRejectsInvalidTransition(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.TransitionTo(model.StateStarting))
	require.NoError(t, f.TransitionTo(model.StateWarming))
	require.NoError(t, f.TransitionTo(model.StateActive))

	var observed []Transition
	f.OnTransition = func(tr Transition) { observed = append(observed, tr) }

	err := f.TransitionTo(model.StateStarting)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.StateActive, f.State(), "rejected transition has no side effects")
	assert.Empty(t, observed)
}

func TestFSMResetFromAnyState(t *testing.T) {
	f := NewFSM()
	require.NoError(t, f.TransitionTo(model.StateStarting))
	require.NoError(t, f.TransitionTo(model.StateWarming))

	var observed []Transition
	f.OnTransition = func(tr Transition) { observed = append(observed, tr) }

	f.ResetToIdle()
	assert.Equal(t, model.StateIdle, f.State())
	require.Len(t, observed, 1)
	assert.True(t, observed[0].Reset)
	assert.Equal(t, model.StateWarming, observed[0].From)
}

type recordingCache struct {
	mu       sync.Mutex
	statuses []*model.InstanceStatus
	activity []map[string]interface{}
}

func (c *recordingCache) WriteInstanceStatus(_ context.Context, st *model.InstanceStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, st)
	return nil
}

func (c *recordingCache) AppendActivity(_ context.Context, _ int, fields map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activity = append(c.activity, fields)
	return nil
}

func testIdentity() Identity {
	return Identity{ExchangeID: 1, ExchangeName: "coinbase", AdminEmail: "ops@example.com"}
}

func TestTransitionAppendsActivityAndRefreshesStatus(t *testing.T) {
	cache := &recordingCache{}
	r := New(testIdentity(), cache, nil, NewFSM())
	r.SetSymbolCount(12)

	require.NoError(t, r.fsm.TransitionTo(model.StateStarting))

	require.Len(t, cache.activity, 1)
	entry := cache.activity[0]
	assert.Equal(t, "state_transition", entry["event"])
	assert.Equal(t, "idle", entry["from_state"])
	assert.Equal(t, "starting", entry["to_state"])
	assert.Equal(t, "coinbase", entry["exchange_name"])

	require.NotEmpty(t, cache.statuses)
	st := cache.statuses[len(cache.statuses)-1]
	assert.Equal(t, model.StateStarting, st.ConnectionState)
	assert.Equal(t, 12, st.SymbolCount)
}

func TestResetEmitsNoActivity(t *testing.T) {
	cache := &recordingCache{}
	r := New(testIdentity(), cache, nil, NewFSM())

	require.NoError(t, r.fsm.TransitionTo(model.StateStarting))
	cache.mu.Lock()
	before := len(cache.activity)
	cache.mu.Unlock()

	r.fsm.ResetToIdle()
	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Equal(t, before, len(cache.activity), "resets never hit the activity stream")
	st := cache.statuses[len(cache.statuses)-1]
	assert.Equal(t, model.StateIdle, st.ConnectionState, "status still refreshed on reset")
}

func TestRecordError(t *testing.T) {
	cache := &recordingCache{}
	r := New(testIdentity(), cache, nil, NewFSM())

	r.RecordError(context.Background(), "dial tcp: connection refused")

	require.Len(t, cache.activity, 1)
	assert.Equal(t, "error", cache.activity[0]["event"])
	assert.Equal(t, "dial tcp: connection refused", cache.activity[0]["error"])
	assert.Equal(t, "idle", cache.activity[0]["state"])
	assert.Equal(t, "dial tcp: connection refused", r.BuildStatus().LastError)
}
