// Package api is the public read surface: a versioned REST API over the
// candle/indicator cache and the alert history. Every handler builds response
// records field by field from an explicit whitelist; internal objects are
// never serialised directly and internal indicator type strings never leave
// the process.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"livermore/internal/model"
	"livermore/internal/store/postgres"
)

// Cache is the Redis read path used by the handlers.
type Cache interface {
	ReadCandles(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe, afterMS, beforeMS int64, limit int) ([]model.Candle, error)
	ReadIndicator(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe, indType string) (*model.IndicatorValue, error)
	ReadInstanceStatus(ctx context.Context, exchangeID int) (*model.InstanceStatus, error)
}

// Database is the Postgres read path used by the handlers.
type Database interface {
	ExchangeByName(ctx context.Context, name string) (*model.Exchange, error)
	ActiveExchanges(ctx context.Context) ([]model.Exchange, error)
	SymbolsWithExchange(ctx context.Context, limit int) ([]postgres.JoinedSymbol, error)
	ListAlerts(ctx context.Context, f postgres.AlertFilter, beforeID int64, limit int) ([]postgres.AlertRow, error)
	LookupAPIKey(ctx context.Context, keyHash string) (string, error)
}

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// Server serves /public/v1.
type Server struct {
	router *mux.Router
	cache  Cache
	db     Database
}

// NewServer wires the route table.
func NewServer(cache Cache, db Database) *Server {
	s := &Server{cache: cache, db: db}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/public/v1").Subrouter()
	v1.Use(s.requireAPIKey)
	v1.HandleFunc("/candles/{exchange}/{symbol}/{timeframe}", s.handleCandles).Methods(http.MethodGet)
	v1.HandleFunc("/symbols", s.handleSymbols).Methods(http.MethodGet)
	v1.HandleFunc("/signals/{exchange}/{symbol}", s.handleSignals).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/network/instances", s.handleInstances).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	s.router = r
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the API server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

// pageSize clamps the limit query parameter.
func pageSize(r *http.Request) int {
	n := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := atoiPositive(raw); err == nil {
			n = v
		}
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n
}
