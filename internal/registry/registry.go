package registry

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

// Cache is the slice of the Redis store the registry writes.
type Cache interface {
	WriteInstanceStatus(ctx context.Context, st *model.InstanceStatus) error
	AppendActivity(ctx context.Context, exchangeID int, fields map[string]interface{}) error
}

// Notifier delivers operator-facing notifications; fire-and-forget.
type Notifier interface {
	NotifyTransition(ctx context.Context, st *model.InstanceStatus, from, to model.ConnectionState) error
}

// Identity is the static part of the status document.
type Identity struct {
	ExchangeID       int
	ExchangeName     string
	AdminEmail       string
	AdminDisplayName string
}

// Registry owns the instance's presence: it is the only writer of the status
// key and the activity stream for this exchange.
type Registry struct {
	id       Identity
	hostname string
	ip       string
	cache    Cache
	notifier Notifier
	fsm      *FSM

	// OnBeatError fires when a status write fails (optional).
	OnBeatError func(err error)

	// OnStateChange fires on every transition, resets included (optional).
	OnStateChange func(to model.ConnectionState)

	mu           sync.Mutex
	symbolCount  int
	connectedAt  *time.Time
	lastError    string
	registeredAt time.Time

	now func() time.Time
}

// New builds the registry and wires itself as the FSM's transition observer.
func New(id Identity, cache Cache, notifier Notifier, fsm *FSM) *Registry {
	r := &Registry{
		id:           id,
		hostname:     hostname(),
		ip:           localIP(),
		cache:        cache,
		notifier:     notifier,
		fsm:          fsm,
		registeredAt: time.Now(),
		now:          time.Now,
	}
	fsm.OnTransition = r.onTransition
	return r
}

// FSM exposes the state machine to the control handlers.
func (r *Registry) FSM() *FSM { return r.fsm }

// SetSymbolCount updates the advertised symbol universe size.
func (r *Registry) SetSymbolCount(n int) {
	r.mu.Lock()
	r.symbolCount = n
	r.mu.Unlock()
}

// SetConnected records the adapter connection time; nil clears it.
func (r *Registry) SetConnected(at *time.Time) {
	r.mu.Lock()
	r.connectedAt = at
	r.mu.Unlock()
}

// SetLastError records the most recent fatal error for the status document.
func (r *Registry) SetLastError(msg string) {
	r.mu.Lock()
	r.lastError = msg
	r.mu.Unlock()
}

// BuildStatus assembles the current status document.
func (r *Registry) BuildStatus() *model.InstanceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &model.InstanceStatus{
		ExchangeID:       r.id.ExchangeID,
		ExchangeName:     r.id.ExchangeName,
		Hostname:         r.hostname,
		IP:               r.ip,
		AdminEmail:       r.id.AdminEmail,
		AdminDisplayName: r.id.AdminDisplayName,
		ConnectionState:  r.fsm.State(),
		SymbolCount:      r.symbolCount,
		ConnectedAt:      r.connectedAt,
		LastHeartbeat:    r.now().UTC(),
		LastStateChange:  r.fsm.Since(),
		RegisteredAt:     r.registeredAt,
		LastError:        r.lastError,
	}
}

// Run is the heartbeat loop: a status write every interval, TTL three times
// that, so presence expires after two missed beats. Blocks until ctx ends,
// then drops the key's refresh and lets it expire naturally.
func (r *Registry) Run(ctx context.Context) {
	r.beat(ctx)
	ticker := time.NewTicker(model.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Registry) beat(ctx context.Context) {
	if err := r.cache.WriteInstanceStatus(ctx, r.BuildStatus()); err != nil {
		log.Warn().Str("component", "registry").Err(err).Msg("heartbeat write failed")
		if r.OnBeatError != nil {
			r.OnBeatError(err)
		}
	}
}

// onTransition refreshes the status document immediately and, for non-reset
// transitions, records the change in the activity stream and notifies.
func (r *Registry) onTransition(tr Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.beat(ctx)
	if r.OnStateChange != nil {
		r.OnStateChange(tr.To)
	}
	if tr.Reset {
		return
	}

	st := r.BuildStatus()
	if err := r.cache.AppendActivity(ctx, r.id.ExchangeID, map[string]interface{}{
		"event":         "state_transition",
		"exchange_id":   strconv.Itoa(r.id.ExchangeID),
		"exchange_name": r.id.ExchangeName,
		"hostname":      r.hostname,
		"ip":            r.ip,
		"timestamp":     tr.At.UTC().Format(time.RFC3339),
		"from_state":    string(tr.From),
		"to_state":      string(tr.To),
		"admin_email":   r.id.AdminEmail,
	}); err != nil {
		log.Warn().Str("component", "registry").Err(err).Msg("activity append failed")
	}

	if r.notifier != nil {
		go func() {
			nctx, ncancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer ncancel()
			if err := r.notifier.NotifyTransition(nctx, st, tr.From, tr.To); err != nil {
				log.Warn().Str("component", "registry").Err(err).Msg("transition notification failed")
			}
		}()
	}
}

// RecordError appends an error event to the activity stream and stores it on
// the status document.
func (r *Registry) RecordError(ctx context.Context, msg string) {
	r.SetLastError(msg)
	if err := r.cache.AppendActivity(ctx, r.id.ExchangeID, map[string]interface{}{
		"event":         "error",
		"exchange_id":   strconv.Itoa(r.id.ExchangeID),
		"exchange_name": r.id.ExchangeName,
		"hostname":      r.hostname,
		"ip":            r.ip,
		"timestamp":     r.now().UTC().Format(time.RFC3339),
		"error":         msg,
		"state":         string(r.fsm.State()),
	}); err != nil {
		log.Warn().Str("component", "registry").Err(err).Msg("activity append failed")
	}
	r.beat(ctx)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// localIP finds the outbound interface address without sending traffic.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
