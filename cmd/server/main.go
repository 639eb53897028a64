package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/gabrieltornquist7/history-clue/internal/config"
	"github.com/gabrieltornquist7/history-clue/internal/database"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
	"github.com/gabrieltornquist7/history-clue/internal/handler/feed"
	"github.com/gabrieltornquist7/history-clue/internal/handler/health"
	"github.com/gabrieltornquist7/history-clue/internal/janitor"
	"github.com/gabrieltornquist7/history-clue/internal/lobby"
	"github.com/gabrieltornquist7/history-clue/internal/migrations"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
	"github.com/gabrieltornquist7/history-clue/internal/server"
	"github.com/gabrieltornquist7/history-clue/internal/store"
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

	// --- libSQL ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to libsql: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to libsql", "path", cfg.DBPath)

	// --- Realtime ---
	checks := []health.Check{{Name: "libsql", Checker: health.CheckerFunc(db.PingContext)}}

	var transport realtime.Transport
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis", "prefix", cfg.RedisPrefix)

		transport = realtime.NewRedisTransport(rdb, cfg.RedisPrefix, logger)
		checks = append(checks, health.Check{Name: "redis", Checker: redisChecker{rdb}, Optional: true})
	} else {
		logger.Warn("REDIS_URL not set, realtime events stay in this process")
		transport = realtime.NewHub()
	}

	// --- Store ---
	st := store.New(db, transport, logger)
	seeded, err := st.SeedPuzzles(ctx)
	if err != nil {
		return fmt.Errorf("seeding puzzles: %w", err)
	}
	logger.Info("puzzles ready", "added", seeded)

	// The janitor resolves forfeited rounds with the same rules clients use.
	resolver := lobby.NewResolver(gateway.New(st, logger), transport, logger)
	jan := janitor.New(st, resolver, cfg.Timing, cfg.Janitor, logger)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks...).Routes())
		r.Mount("/realtime", feed.NewHandler(transport, logger).Routes())
		r.Mount("/api", server.Routes(st, logger, cfg.PublicURL))
		r.Handle("/metrics", promhttp.Handler())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		return jan.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }
