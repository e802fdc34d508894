// Package metrics exposes Prometheus instrumentation and the /healthz probe
// for one instance.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the instance.
type Metrics struct {
	CandleWrites    *prometheus.CounterVec // labels: timeframe
	CandlesDropped  prometheus.Counter     // stale sequence numbers
	ClosesPublished prometheus.Counter
	WSReconnects    prometheus.Counter

	WarmupRuns     *prometheus.CounterVec // labels: mode
	WarmupFetches  prometheus.Counter
	WarmupFailures prometheus.Counter

	GapRepairs        prometheus.Counter
	IndicatorComputes prometheus.Counter
	IndicatorDur      prometheus.Histogram
	AlertsEmitted     *prometheus.CounterVec // labels: label

	ConnectionState   prometheus.Gauge // FSM state ordinal
	SubscribedPairs   prometheus.Gauge
	HeartbeatFailures prometheus.Counter
}

// New registers and returns the instance metrics.
func New() *Metrics {
	m := &Metrics{
		CandleWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_candle_writes_total",
			Help: "Accepted candle cache writes by timeframe",
		}, []string{"timeframe"}),
		CandlesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_candles_dropped_total",
			Help: "Candle writes discarded for a stale sequence number",
		}),
		ClosesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_closes_published_total",
			Help: "Candle close events published on the close channel",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		WarmupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_warmup_runs_total",
			Help: "Warmup runs by trust mode",
		}, []string{"mode"}),
		WarmupFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_warmup_fetches_total",
			Help: "Warmup REST fetches issued",
		}),
		WarmupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_warmup_failures_total",
			Help: "Warmup fetches that failed after retries",
		}),
		GapRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_gap_repairs_total",
			Help: "Candles repaired by boundary reconciliation",
		}),
		IndicatorComputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_indicator_computes_total",
			Help: "Indicator recomputations",
		}),
		IndicatorDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livermore_indicator_compute_duration_seconds",
			Help:    "Indicator recomputation latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livermore_alerts_emitted_total",
			Help: "Alerts emitted by trigger label",
		}, []string{"label"}),

		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livermore_connection_state",
			Help: "FSM state (0=idle 1=starting 2=warming 3=active 4=stopping 5=stopped)",
		}),
		SubscribedPairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livermore_subscribed_pairs",
			Help: "Currently subscribed (symbol, timeframe) pairs",
		}),
		HeartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livermore_heartbeat_failures_total",
			Help: "Instance status writes that failed",
		}),
	}

	prometheus.MustRegister(
		m.CandleWrites,
		m.CandlesDropped,
		m.ClosesPublished,
		m.WSReconnects,
		m.WarmupRuns,
		m.WarmupFetches,
		m.WarmupFailures,
		m.GapRepairs,
		m.IndicatorComputes,
		m.IndicatorDur,
		m.AlertsEmitted,
		m.ConnectionState,
		m.SubscribedPairs,
		m.HeartbeatFailures,
	)
	return m
}

// HealthStatus is the /healthz document.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected       bool
	RedisConnected    bool
	PostgresOK        bool
	RedisLatencyMs    float64
	PostgresLatencyMs float64
	LastCheckAt       time.Time
	StartedAt         time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// SetWSConnected records the adapter connection state.
func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb goredis.UniversalClient) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	lat := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(lat.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckPostgres pings the pool and records latency and health.
func (h *HealthStatus) CheckPostgres(ctx context.Context, pool *pgxpool.Pool) {
	start := time.Now()
	err := pool.Ping(ctx)
	lat := time.Since(start)

	h.mu.Lock()
	h.PostgresOK = err == nil
	h.PostgresLatencyMs = float64(lat.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency probes until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb goredis.UniversalClient, pool *pgxpool.Pool, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if pool != nil {
					h.CheckPostgres(probeCtx, pool)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles /healthz.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.WSConnected || !h.RedisConnected || !h.PostgresOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.PostgresOK {
		status = "unhealthy"
	}

	doc := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		WSConnected       bool    `json:"ws_connected"`
		RedisConnected    bool    `json:"redis_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		PostgresOK        bool    `json:"postgres_ok"`
		PostgresLatencyMs float64 `json:"postgres_latency_ms"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            status,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:       h.WSConnected,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		PostgresOK:        h.PostgresOK,
		PostgresLatencyMs: h.PostgresLatencyMs,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	_ = json.NewEncoder(w).Encode(doc)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("component", "metrics").Str("addr", s.addr).Msg("server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Str("component", "metrics").Err(err).Msg("server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	_ = s.srv.Shutdown(ctx)
}
