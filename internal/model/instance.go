package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConnectionState is the FSM state of one running instance.
type ConnectionState string

const (
	StateIdle     ConnectionState = "idle"
	StateStarting ConnectionState = "starting"
	StateWarming  ConnectionState = "warming"
	StateActive   ConnectionState = "active"
	StateStopping ConnectionState = "stopping"
	StateStopped  ConnectionState = "stopped"
	// StateOffline is never written by an instance; observers infer it from
	// the expiry of the status key.
	StateOffline ConnectionState = "offline"
)

// InstanceStatus is the heartbeat document written under a TTL'd key.
// Absence of the key means the instance is offline.
type InstanceStatus struct {
	ExchangeID       int             `json:"exchange_id"`
	ExchangeName     string          `json:"exchange_name"`
	Hostname         string          `json:"hostname"`
	IP               string          `json:"ip"`
	AdminEmail       string          `json:"admin_email"`
	AdminDisplayName string          `json:"admin_display_name"`
	ConnectionState  ConnectionState `json:"connection_state"`
	SymbolCount      int             `json:"symbol_count"`
	ConnectedAt      *time.Time      `json:"connected_at,omitempty"`
	LastHeartbeat    time.Time       `json:"last_heartbeat"`
	LastStateChange  time.Time       `json:"last_state_change"`
	RegisteredAt     time.Time       `json:"registered_at"`
	LastError        string          `json:"last_error,omitempty"`
}

// JSON returns the JSON-encoded status document.
func (s *InstanceStatus) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// HeartbeatInterval is the cadence of status writes; HeartbeatTTL is 3x the
// cadence so one missed write does not flap presence.
const (
	HeartbeatInterval = 15 * time.Second
	HeartbeatTTL      = 45 * time.Second
)

// ControlCommand is one JSON command received on the instance command channel.
type ControlCommand struct {
	CorrelationID string          `json:"correlation_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Priority      int             `json:"priority"`
}

// Command types accepted on the control channel.
const (
	CmdStart          = "start"
	CmdStop           = "stop"
	CmdAddSymbol      = "add-symbol"
	CmdBulkAddSymbols = "bulk-add-symbols"
	CmdForceBackfill  = "force-backfill"
	CmdReset          = "reset"
)

// CommandResult is published on the response channel after each command.
type CommandResult struct {
	CorrelationID string          `json:"correlation_id"`
	Type          string          `json:"type"`
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	State         ConnectionState `json:"state"`
	Timestamp     time.Time       `json:"timestamp"`
}

// JSON returns the JSON-encoded result.
func (r *CommandResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// Exchange is a row from the Postgres exchanges table: the source of truth for
// what an exchange is and how to reach it. Seeded at bootstrap, immutable at
// runtime.
type Exchange struct {
	ID                  int             `json:"id"`
	Name                string          `json:"name"`
	DisplayName         string          `json:"display_name"`
	WSURL               string          `json:"ws_url"`
	RESTURL             string          `json:"rest_url"`
	SupportedTimeframes []Timeframe     `json:"supported_timeframes"`
	APILimits           json.RawMessage `json:"api_limits,omitempty"`
	FeeSchedule         json.RawMessage `json:"fee_schedule,omitempty"`
	GeoRestrictions     json.RawMessage `json:"geo_restrictions,omitempty"`
	IsActive            bool            `json:"is_active"`
}

// ExchangeSymbol is a row from exchange_symbols; it drives the symbol universe
// shared by every user on that exchange.
type ExchangeSymbol struct {
	ExchangeID     int     `json:"exchange_id"`
	Symbol         string  `json:"symbol"`
	BaseAsset      string  `json:"base_asset"`
	QuoteAsset     string  `json:"quote_asset"`
	Volume24h      float64 `json:"volume_24h"`
	MarketCap      float64 `json:"market_cap"`
	Rank           int     `json:"rank"`
	LiquidityScore float64 `json:"liquidity_score"`
	IsActive       bool    `json:"is_active"`
}

// UserSettings is the versioned settings JSONB document on a users row.
// CurrentSettingsVersion is bumped with every schema migration.
type UserSettings struct {
	Version   int             `json:"version"`
	Watchlist []string        `json:"watchlist,omitempty"`
	Runtime   map[string]any  `json:"runtime,omitempty"`
	Extra     json.RawMessage `json:"-"`
}

// CurrentSettingsVersion is the newest settings document schema version.
const CurrentSettingsVersion = 2

// MigrateSettings upgrades a settings document to the current version.
// Returns an error if the document is newer than this binary understands.
func MigrateSettings(s *UserSettings) error {
	switch {
	case s.Version <= 0:
		s.Version = 1
		fallthrough
	case s.Version == 1:
		// v1 -> v2: runtime preferences became a nested object.
		if s.Runtime == nil {
			s.Runtime = map[string]any{}
		}
		s.Version = 2
		return nil
	case s.Version == CurrentSettingsVersion:
		return nil
	default:
		return fmt.Errorf("settings version %d is newer than supported %d", s.Version, CurrentSettingsVersion)
	}
}
