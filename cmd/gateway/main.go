// gateway runs the AlgoLab broker gateway: it restores the persisted broker
// session, maintains the market-data stream and tick cache, keeps the
// session refreshed, and serves metrics and health.
//
// Sessions are established interactively with cmd/streamprobe (the broker
// login needs an SMS code); the daemon only restores what is persisted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/intradayhq/algolab-gateway/internal/config"
	"github.com/intradayhq/algolab-gateway/internal/core"
	"github.com/intradayhq/algolab-gateway/internal/metrics"
	"github.com/intradayhq/algolab-gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	logger.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("config", *configPath).
		Msg("starting gateway")

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	c, err := core.Build(ctx, *cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build gateway")
		os.Exit(1)
	}

	var msrv *metrics.Server
	if cfg.Metrics.MetricsEnabled() {
		msrv = metrics.NewServer(
			fmt.Sprintf(":%d", cfg.Metrics.Port),
			cfg.Metrics.Path,
			c.Health,
			map[string]metrics.DebugFunc{
				"subscriptions": func() any {
					subs := c.Subscriptions()
					return map[string]any{"count": len(subs), "subscriptions": subs}
				},
				"stats":   func() any { return c.Stats() },
				"summary": func() any { return c.CacheSummary(10) },
			},
			logger,
		)
		go func() {
			if err := msrv.Start(); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	if err := c.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start gateway")
		os.Exit(1)
	}

	logger.Info().
		Str("health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)).
		Msg("gateway running")

	<-ctx.Done()

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if msrv != nil {
		if err := msrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown failed")
		}
	}
	if err := c.Close(); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}
