// Command livermore runs one exchange instance: it connects to its exchange,
// keeps the shared candle cache warm and current, computes indicators, emits
// alerts and serves the public read API. The instance idles until a start
// command arrives on its control channel, or immediately starts with
// --autostart.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"livermore/config"
	"livermore/internal/alerts"
	"livermore/internal/api"
	"livermore/internal/control"
	"livermore/internal/engine"
	"livermore/internal/exchange"
	"livermore/internal/indicator"
	"livermore/internal/logger"
	"livermore/internal/metrics"
	"livermore/internal/model"
	"livermore/internal/notification"
	"livermore/internal/reconcile"
	"livermore/internal/registry"
	"livermore/internal/store/postgres"
	redisstore "livermore/internal/store/redis"
	"livermore/internal/warmup"
)

// stateOrdinal matches the livermore_connection_state gauge documentation.
var stateOrdinal = map[model.ConnectionState]float64{
	model.StateIdle:     0,
	model.StateStarting: 1,
	model.StateWarming:  2,
	model.StateActive:   3,
	model.StateStopping: 4,
	model.StateStopped:  5,
	model.StateOffline:  6,
}

// configError distinguishes invalid configuration (exit 1) from runtime
// failures (exit 2).
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ce *configError
		if errors.As(err, &ce) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func newRootCmd() *cobra.Command {
	var (
		autostart   string
		configCheck bool
	)
	cmd := &cobra.Command{
		Use:           "livermore",
		Short:         "Exchange instance: market data, indicators, alerts, public API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if autostart != "" {
				cfg.ExchangeName = autostart
			}

			pretty := strings.EqualFold(os.Getenv("LOG_PRETTY"), "true")
			logger.Init("livermore", os.Getenv("LOG_LEVEL"), pretty)

			if err := cfg.Validate(); err != nil {
				log.Error().Err(err).Msg("configuration invalid")
				return &configError{err: err}
			}
			if configCheck {
				fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
				return nil
			}
			return run(cmd.Context(), cfg, autostart != "")
		},
	}
	cmd.Flags().StringVar(&autostart, "autostart", "", "start this exchange immediately instead of waiting for a control command")
	cmd.Flags().BoolVar(&configCheck, "config-check", false, "validate configuration and exit")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, autostart bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	cache, err := redisstore.New(redisstore.Config{URL: cfg.RedisURL, MaxCandles: cfg.MaxCachedCandles})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer cache.Close()

	ex, err := db.ExchangeByName(ctx, cfg.ExchangeName)
	if err != nil {
		return fmt.Errorf("exchange %q: %w", cfg.ExchangeName, err)
	}
	adapter, err := exchange.New(ex)
	if err != nil {
		return fmt.Errorf("adapter: %w", err)
	}

	met := metrics.New()
	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, cache.Client(), db.Pool(), 30*time.Second)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		metricsSrv.Stop(sctx)
	}()

	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.DiscordWebhookURL != "" {
		notifier = notification.NewDiscord(cfg.DiscordWebhookURL)
	}

	reg := registry.New(registry.Identity{
		ExchangeID:       ex.ID,
		ExchangeName:     ex.Name,
		AdminEmail:       cfg.AdminEmail,
		AdminDisplayName: cfg.AdminDisplayName,
	}, cache, notifier, registry.NewFSM())
	reg.OnBeatError = func(error) { met.HeartbeatFailures.Inc() }
	reg.OnStateChange = func(to model.ConnectionState) {
		met.ConnectionState.Set(stateOrdinal[to])
	}

	warmer := warmup.NewService(ex.ID, cache, adapter)
	warmer.OnFetch = func(_ string, _ model.Timeframe, err error) {
		met.WarmupFetches.Inc()
		if err != nil {
			met.WarmupFailures.Inc()
		}
	}
	warmer.OnComplete = func(stats *model.WarmupStats) {
		met.WarmupRuns.WithLabelValues(stats.Mode).Inc()
	}

	eval := alerts.NewEvaluator(ex.ID, ex.Name, db, cache, cache, notifier, nil)
	eval.OnAlert = func(a *model.Alert) {
		met.AlertsEmitted.WithLabelValues(a.TriggerLabel).Inc()
	}

	sched := indicator.NewScheduler(ex.ID, cache, indicator.NewMomentum(), eval)
	sched.OnCompute = func(_ string, _ model.Timeframe, dur time.Duration) {
		met.IndicatorComputes.Inc()
		met.IndicatorDur.Observe(dur.Seconds())
	}

	rec := reconcile.New(ex.ID, adapter, cache)
	rec.OnRepair = func(symbol string, tf model.Timeframe, timestampMS int64) {
		met.GapRepairs.Inc()
		sched.Trigger(symbol, tf, timestampMS)
	}

	eng := engine.New(ex, adapter, cache, db, reg, warmer, rec, sched, met)
	eng.OnConnectionChange = health.SetWSConnected
	disp := control.New(cfg.UserID, cache, eng)

	apiSrv := api.NewServer(cache, db)

	go reg.Run(ctx)
	go func() {
		if err := apiSrv.ListenAndServe(ctx, cfg.APIAddr); err != nil {
			log.Error().Err(err).Msg("api server failed")
		}
	}()
	go func() {
		if err := disp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("control dispatcher failed")
		}
	}()

	if autostart {
		disp.Handle(ctx, model.ControlCommand{Type: model.CmdStart, Timestamp: time.Now().UTC()})
	}

	log.Info().Str("exchange", ex.Name).Str("api", cfg.APIAddr).
		Str("metrics", cfg.MetricsAddr).Msg("instance ready")
	<-ctx.Done()

	// Graceful teardown: walk the FSM down if a session is running.
	sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer scancel()
	if eng.State() == model.StateActive {
		if err := eng.Stop(sctx); err != nil {
			log.Warn().Err(err).Msg("stop on shutdown")
		}
	}
	log.Info().Msg("instance stopped")
	return nil
}
