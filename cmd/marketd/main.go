// Command marketd serves the job marketplace over HTTP. It wires a
// storage backend (memory, redis, or postgres), the settlement ledger,
// the engine, and an in-process sweeper that releases expired leases.
//
// Configuration comes from the environment:
//
//	ADDR                    listen address (default ":8080")
//	STORE_BACKEND           memory | redis | postgres (default "memory")
//	POSTGRES_DSN            DSN for the postgres backend
//	REDIS_ADDR              address for the redis backend
//	REDIS_PASSWORD          optional redis password
//	ADMINS                  comma-separated admin identities
//	MAX_ATTEMPTS            retry budget before dead-lettering (default 3)
//	EXPIRY_COUNTS_AS_ATTEMPT  count lease expiries against the budget
//	SWEEP_INTERVAL          sweeper cadence (default 30s)
//	SWEEP_DISABLED          disable the in-process sweeper
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"golang.org/x/sync/errgroup"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/api"
	"github.com/taskfair/taskfair/engine"
	"github.com/taskfair/taskfair/ledger"
	bunstore "github.com/taskfair/taskfair/store/bun"
	"github.com/taskfair/taskfair/store/memory"
	redisstore "github.com/taskfair/taskfair/store/redis"
	"github.com/taskfair/taskfair/sweeper"
)

type config struct {
	Addr         string `env:"ADDR" envDefault:":8080"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`

	PostgresDSN   string `env:"POSTGRES_DSN"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	Admins                []string `env:"ADMINS"`
	MaxAttempts           int      `env:"MAX_ATTEMPTS" envDefault:"3"`
	ExpiryCountsAsAttempt bool     `env:"EXPIRY_COUNTS_AS_ATTEMPT"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SweepDisabled bool          `env:"SWEEP_DISABLED"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("marketd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	mktCfg := taskfair.DefaultConfig()
	mktCfg.MaxAttempts = cfg.MaxAttempts
	mktCfg.ExpiryCountsAsAttempt = cfg.ExpiryCountsAsAttempt

	admins := make([]taskfair.Actor, 0, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins = append(admins, taskfair.Actor(a))
	}

	m, err := taskfair.New(
		taskfair.WithStore(st),
		taskfair.WithLedger(ledger.NewMemory()),
		taskfair.WithConfig(mktCfg),
		taskfair.WithAdmins(admins...),
		taskfair.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("new market: %w", err)
	}

	eng, err := engine.Build(m)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(eng, api.WithLogger(logger)).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("marketd listening", slog.String("addr", cfg.Addr), slog.String("backend", cfg.StoreBackend))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if !cfg.SweepDisabled {
		sw := sweeper.New(eng,
			sweeper.WithInterval(cfg.SweepInterval),
			sweeper.WithLogger(logger),
		)
		g.Go(func() error {
			err := sw.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return m.Close(context.Background())
}

func openStore(cfg config, logger *slog.Logger) (taskfair.Storer, error) {
	switch cfg.StoreBackend {
	case "memory":
		return memory.New(), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return redisstore.New(client, redisstore.WithLogger(logger)), nil
	case "postgres":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.PostgresDSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
