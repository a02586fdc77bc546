// Command voice-agent runs the telephony-to-LLM voice bridge server: it
// answers inbound call webhooks, accepts media-stream WebSockets, and bridges
// each call to the model's realtime API with appointment-booking tools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vivek-Chaudhari30/voice-agent/internal/booking"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/cache"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/config"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/observe"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/server"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/tools"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/realtime"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "optional path to a YAML configuration file (environment variables override it)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voice-agent: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("voice-agent starting",
		"listen_addr", cfg.Server.ListenAddr,
		"model", cfg.LLM.Model,
		"voice", cfg.LLM.Voice,
		"max_call_duration", cfg.Call.MaxDuration(),
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voice-agent",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Booking store (fatal if unavailable) ──────────────────────────────────
	store, err := booking.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open booking store", "path", cfg.Database.Path, "err", err)
		return 1
	}
	defer store.Close()

	// ── Session cache ─────────────────────────────────────────────────────────
	cacheClient, err := cache.NewClient(cfg.Cache.URL)
	if err != nil {
		slog.Error("failed to configure session cache", "err", err)
		return 1
	}
	defer cacheClient.Close()
	if err := cacheClient.Ping(ctx); err != nil {
		// The cache is advisory: a dead cache degrades observability, not calls.
		slog.Warn("session cache unreachable at startup", "err", err)
	}

	writer := cache.NewWriter(cacheClient, metrics, 0)
	defer writer.Close()

	// ── Tools + realtime dialer ───────────────────────────────────────────────
	dispatcher := tools.NewDispatcher(store, writer, metrics)
	dialer := realtime.NewClient(cfg.LLM.APIKey,
		realtime.WithModel(cfg.LLM.Model),
		realtime.WithVoice(cfg.LLM.Voice),
		realtime.WithBaseURL(cfg.LLM.BaseURL),
		realtime.WithInstructions(assistantInstructions),
		realtime.WithTools(dispatcher.Definitions()),
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := server.New(server.Deps{
		Config:  cfg,
		Store:   store,
		Cache:   cacheClient,
		Writer:  writer,
		Tools:   dispatcher,
		Dialer:  dialer,
		Metrics: metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// assistantInstructions is the persona configured on every realtime session.
const assistantInstructions = "You are a friendly scheduling assistant for a " +
	"clinic. Help callers find open appointment slots and book them. Keep " +
	"responses short and conversational — this is a phone call. Always " +
	"confirm the date, time, and the caller's name before booking, and read " +
	"the confirmation number back slowly after a successful booking. The " +
	"clinic is open weekdays 9 AM to 5 PM and closed for lunch from noon to 1 PM."

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
