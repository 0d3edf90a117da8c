package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"CurveLedger/internal/chain"
	"CurveLedger/internal/config"
	"CurveLedger/internal/engine"
	"CurveLedger/internal/observability"
	"CurveLedger/internal/scheduler"
	"CurveLedger/internal/server"
	"CurveLedger/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log := observability.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres + migrations
	pg, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pg.Close()

	migrator := store.NewMigrator(pg.DB(), cfg.Database.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// NATS distributor
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Drain()

	requestTimeout, err := time.ParseDuration(cfg.NATS.RequestTimeout)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.NATS.RequestTimeout).Msg("parse nats request timeout")
	}
	dist := chain.NewNATSDistributor(nc, observability.NewLogger("distributor"),
		chain.WithRequestTimeout(requestTimeout),
		chain.WithMaxAttempts(cfg.NATS.MaxAttempts),
	)

	metrics := observability.NewMetrics()
	eng := engine.New(cfg.EngineConfig(), pg, dist,
		observability.NewLogger("engine"),
		engine.WithMetrics(metrics),
	)

	// Launch reconciler: resumes frozen curves whose distribution did
	// not complete before a crash.
	reconciler := scheduler.NewReconciler(eng, pg, cfg.Reconciler.Cron, observability.NewLogger("reconciler"))
	if err := reconciler.Start(); err != nil {
		log.Fatal().Err(err).Msg("start reconciler")
	}

	checker := observability.NewHealthChecker()
	srv := server.New(cfg.Server.GRPCAddr, cfg.Server.MetricsAddr, checker, observability.NewLogger("server"))
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("start server")
	}
	checker.SetReady(true)

	log.Info().
		Str("grpc_addr", cfg.Server.GRPCAddr).
		Str("metrics_addr", cfg.Server.MetricsAddr).
		Msg("curveledger started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	checker.SetReady(false)
	reconciler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Info().Msg("curveledger stopped")
}
