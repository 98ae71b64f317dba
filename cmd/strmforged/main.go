// Package main wires the config, store, background services and HTTP
// surface of strmforged (spec §4, §6) into one running process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jiqinga/strmforge/internal/bus"
	"github.com/jiqinga/strmforge/internal/config"
	"github.com/jiqinga/strmforge/internal/httpapi"
	applog "github.com/jiqinga/strmforge/internal/log"
	"github.com/jiqinga/strmforge/internal/recovery"
	"github.com/jiqinga/strmforge/internal/retryservice"
	"github.com/jiqinga/strmforge/internal/store"
	"github.com/jiqinga/strmforge/internal/telemetry"
)

var (
	version = "v0.1.0"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("strmforged %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	applog.Configure(applog.Config{Level: "info", Service: "strmforge", Version: version})
	logger := applog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}
	applog.Configure(applog.Config{Level: cfg.LogLevel, Service: cfg.ServiceName, Version: version})
	logger.Info().Str("event", "config.loaded").Str("path", *configPath).Msg("configuration loaded")

	if *configPath != "" {
		holder, err := config.NewConfigHolder(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("event", "config.holder_failed").Msg("failed to initialize config holder")
		}
		if err := holder.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("config hot reload disabled")
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open state store")
	}
	defer func() { _ = st.Close() }()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.OTLPEndpoint != "",
		ServiceName:  cfg.ServiceName,
		Endpoint:     cfg.OTLPEndpoint,
		ExporterType: "http",
		SamplingRate: 1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialize telemetry")
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	eventBus := bus.NewMemoryBus()
	startAuditLogger(ctx, eventBus, logger)

	recoverySvc := recovery.New(st, 0)
	go recoverySvc.Run(ctx, true)

	retrySvc := retryservice.New(st, cfg.WorkerOwner)
	go retrySvc.Run(ctx)

	srv := httpapi.NewServer(st, cfg.WorkerOwner, cfg.RateLimitPerMinute, func() error {
		return recoverySvc.Sweep(context.Background())
	})
	srv.SetBus(eventBus)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("event", "http.listen").Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Str("event", "http.listen_failed").Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Str("event", "shutdown").Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown did not complete cleanly")
	}
}

func openStore(cfg config.FileConfig) (store.StateStore, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return store.NewSqliteStore(cfg.StoreDSN)
	default:
		return store.NewMemoryStore(), nil
	}
}

// startAuditLogger subscribes to every Task lifecycle topic and logs each
// event; it is the bus's only consumer today, kept separate from the
// Processor/httpapi publishers so either side can gain more subscribers
// later without touching this one.
func startAuditLogger(ctx context.Context, b bus.Bus, logger zerolog.Logger) {
	topics := []string{bus.TopicTaskStart, bus.TopicTaskCancel, bus.TopicTaskContinue, bus.TopicTaskDelete}
	for _, topic := range topics {
		sub, err := b.Subscribe(ctx, topic)
		if err != nil {
			logger.Warn().Err(err).Str("topic", topic).Msg("audit logger could not subscribe")
			continue
		}
		go func(topic string, sub bus.Subscriber) {
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-sub.C():
					if !ok {
						return
					}
					logger.Info().Str("topic", topic).Int64("task_id", msg.TaskID).Msg("task event")
				}
			}
		}(topic, sub)
	}
}
