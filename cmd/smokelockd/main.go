package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smokelock/smokelock/internal/config"
	"github.com/smokelock/smokelock/internal/counter"
	"github.com/smokelock/smokelock/internal/database"
	"github.com/smokelock/smokelock/internal/engine"
	"github.com/smokelock/smokelock/internal/geo"
	"github.com/smokelock/smokelock/internal/migrations"
	"github.com/smokelock/smokelock/internal/server"
	"github.com/smokelock/smokelock/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	st := store.New(db)

	// --- Remote counter ---
	client := counter.New(counter.Config{
		BaseURL:     cfg.CounterBaseURL,
		Namespace:   cfg.CounterNamespace,
		Credentials: st,
		Logger:      logger,
	})

	// --- Lock engine ---
	eng := engine.New(engine.Config{
		Store:   st,
		Counter: client,
		Logger:  logger,
	})
	defer eng.Close()

	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("restoring lock state: %w", err)
	}

	var defaultCoord *geo.Coord
	if cfg.DefaultLat != nil && cfg.DefaultLon != nil {
		defaultCoord = &geo.Coord{Lat: *cfg.DefaultLat, Lon: *cfg.DefaultLon}
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, server.Options{
		Logger:       logger,
		Engine:       eng,
		Store:        st,
		DB:           db,
		Counter:      client,
		TokenHash:    cfg.APITokenHash,
		DefaultCoord: defaultCoord,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := eng.SyncFromRemote(gctx); err != nil {
					logger.Warn("remote sync failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}
