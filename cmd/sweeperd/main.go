// Command sweeperd runs a standalone lease sweeper against a shared
// storage backend. The market itself never schedules expiry; one or
// more sweeperd processes poll for stale leases and force them open.
// Races between sweepers are harmless: the release is conditional.
//
// Configuration comes from the environment:
//
//	STORE_BACKEND   redis | postgres (default "redis")
//	POSTGRES_DSN    DSN for the postgres backend
//	REDIS_ADDR      address for the redis backend
//	REDIS_PASSWORD  optional redis password
//	SWEEP_QUEUES    comma-separated queues to sweep (default: all)
//	SWEEP_INTERVAL  sweep cadence (default 30s)
//	SWEEP_LIMIT     max releases per queue per sweep (default 100)
//	SWEEP_ACTOR     identity recorded on releases (default "sweeper")
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/engine"
	"github.com/taskfair/taskfair/ledger"
	bunstore "github.com/taskfair/taskfair/store/bun"
	redisstore "github.com/taskfair/taskfair/store/redis"
	"github.com/taskfair/taskfair/sweeper"
)

type config struct {
	StoreBackend string `env:"STORE_BACKEND" envDefault:"redis"`

	PostgresDSN   string `env:"POSTGRES_DSN"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	SweepQueues   []string      `env:"SWEEP_QUEUES"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SweepLimit    int           `env:"SWEEP_LIMIT" envDefault:"100"`
	SweepActor    string        `env:"SWEEP_ACTOR" envDefault:"sweeper"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := run(logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sweeperd exited", slog.String("error", err.Error()))
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
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	m, err := taskfair.New(
		taskfair.WithStore(st),
		taskfair.WithLedger(ledger.NewMemory()),
		taskfair.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("new market: %w", err)
	}

	eng, err := engine.Build(m)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	sw := sweeper.New(eng,
		sweeper.WithQueues(cfg.SweepQueues...),
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithLimit(cfg.SweepLimit),
		sweeper.WithActor(taskfair.Actor(cfg.SweepActor)),
		sweeper.WithLogger(logger),
	)

	logger.Info("sweeperd running",
		slog.String("backend", cfg.StoreBackend),
		slog.Duration("interval", cfg.SweepInterval),
	)
	if err := sw.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return m.Close(context.Background())
}

func openStore(cfg config, logger *slog.Logger) (taskfair.Storer, error) {
	switch cfg.StoreBackend {
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
