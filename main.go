package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arenaclash/server/internal/broadcast"
	"arenaclash/server/internal/config"
	"arenaclash/server/internal/events"
	"arenaclash/server/internal/gateway"
	"arenaclash/server/internal/httpapi"
	"arenaclash/server/internal/identity"
	"arenaclash/server/internal/janitor"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/sim"
)

const shutdownTimeout = 10 * time.Second

func main() {
	//1.- Optional .env keeps local development close to the deployed environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("invalid configuration", logging.Error(err))
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logging.L().Fatal("initialise logging", logging.Error(err))
	}
	defer func() { _ = logger.Sync() }()
	logging.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", logging.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := buildResolver(cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	registry := match.NewRegistry(ctx, bus, logger,
		match.WithResolver(resolver),
		match.WithReclaimGrace(cfg.ReclaimGrace),
		match.WithSimConfig(simConfig(cfg)),
	)

	broadcaster := broadcast.New(bus, logger)
	if err := broadcaster.Run(ctx); err != nil {
		return err
	}

	gw, err := gateway.New(cfg, logger, registry, broadcaster)
	if err != nil {
		return err
	}

	sweeper, err := janitor.New(cfg.JanitorInterval, registry, logger)
	if err != nil {
		return err
	}
	sweeper.Start()

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Clients:     gw.ClientCount,
		Stats:       registry.Stats,
		Broadcast:   broadcaster.Metrics,
		OpenMatches: registry.ListOpenMatches,
		RateLimiter: httpapi.NewSlidingWindowLimiter(time.Minute, 120, nil),
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	handlers.Register(mux)

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: logging.HTTPTraceMiddleware(logger)(mux),
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("arena server listening", logging.String("addr", cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	//1.- Stop accepting before tearing down matches so no client lands mid-shutdown.
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Error(err))
	}
	gw.Shutdown()
	registry.Shutdown()
	if err := sweeper.Stop(); err != nil {
		logger.Warn("janitor shutdown", logging.Error(err))
	}
	broadcaster.Wait()
	logger.Info("shutdown complete")
	return nil
}

func buildResolver(cfg *config.Config) (identity.Resolver, error) {
	if cfg.IdentityURL == "" {
		return identity.PassthroughResolver{}, nil
	}
	return identity.NewHTTPResolver(cfg.IdentityURL, cfg.IdentityToken)
}

func simConfig(cfg *config.Config) sim.Config {
	tuned := sim.DefaultConfig()
	tuned.TickHz = cfg.TickHz
	return tuned
}
