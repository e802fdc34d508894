package model

import (
	"encoding/json"
	"time"
)

// Warmup cache-trust modes.
const (
	ModeTargeted    = "targeted"
	ModeFullRefresh = "full_refresh"
)

// Warmup stats statuses in pipeline order.
const (
	WarmupAssessing = "assessing"
	WarmupDumping   = "dumping"
	WarmupScanning  = "scanning"
	WarmupFetching  = "fetching"
	WarmupComplete  = "complete"
	WarmupError     = "error"
)

// PairStatus is the scan verdict for one (symbol, timeframe).
type PairStatus struct {
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	CachedCount int64     `json:"cachedCount"`
	NewestAgeMS int64     `json:"newestCandleAge"`
	Sufficient  bool      `json:"sufficient"`
	Reason      string    `json:"reason"`
}

// Scan reasons.
const (
	ReasonOK       = "ok"
	ReasonLowCount = "low_count"
	ReasonStale    = "stale"
	ReasonEmpty    = "empty"
)

// WarmupEntry is one planned REST fetch in a warmup schedule.
type WarmupEntry struct {
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	CachedCount int64     `json:"cachedCount"`
	TargetCount int       `json:"targetCount"`
	Reason      string    `json:"reason"`
}

// WarmupSchedule is the persisted plan of one warmup run. It is written as a
// single JSON blob (camelCase: a cross-language contract with the UI) before
// execution starts so observers can read the plan up front.
type WarmupSchedule struct {
	ExchangeID      int           `json:"exchangeId"`
	Mode            string        `json:"mode"`
	TotalPairs      int           `json:"totalPairs"`
	SufficientPairs int           `json:"sufficientPairs"`
	NeedsFetching   int           `json:"needsFetching"`
	Entries         []WarmupEntry `json:"entries"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// JSON returns the JSON-encoded schedule.
func (s *WarmupSchedule) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// WarmupFailure records one failed fetch; failures never abort a batch.
type WarmupFailure struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Error     string    `json:"error"`
}

// WarmupStats is the real-time progress snapshot, overwritten after every batch.
type WarmupStats struct {
	Status           string          `json:"status"`
	Mode             string          `json:"mode"`
	TotalPairs       int             `json:"totalPairs"`
	CompletedPairs   int             `json:"completedPairs"`
	FailedPairs      int             `json:"failedPairs"`
	PercentComplete  float64         `json:"percentComplete"`
	ETAMS            int64           `json:"etaMs"`
	CurrentSymbol    string          `json:"currentSymbol,omitempty"`
	CurrentTimeframe Timeframe       `json:"currentTimeframe,omitempty"`
	NextSymbol       string          `json:"nextSymbol,omitempty"`
	NextTimeframe    Timeframe       `json:"nextTimeframe,omitempty"`
	Failures         []WarmupFailure `json:"failures"`
	Error            string          `json:"error,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// JSON returns the JSON-encoded stats snapshot.
func (s *WarmupStats) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
