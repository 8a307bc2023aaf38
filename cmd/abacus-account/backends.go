package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"

	"github.com/getpup/abacus/config"
	"github.com/getpup/abacus/store"
	"github.com/getpup/abacus/store/memory"
	"github.com/getpup/abacus/store/natskv"
	"github.com/getpup/abacus/store/redis"
	"github.com/getpup/abacus/store/sqlstore"
)

// backends holds the opened stores and the connections behind them.
type backends struct {
	Registry store.Registry
	Counters store.CounterStore

	closers []func() error
}

// Close releases every connection in reverse opening order.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, cfg *config.Config) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	dialect, err := sqlstore.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	b.closers = append(b.closers, db.Close)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlConfig := sqlstore.Config{
		DB:         db,
		Dialect:    dialect,
		Tables:     cfg.TableConfig(),
		StaleAfter: cfg.Registry.StaleAfter,
	}

	counters, err := sqlstore.NewCounterStore(sqlConfig)
	if err != nil {
		return nil, err
	}
	b.Counters = counters

	switch cfg.Registry.Backend {
	case config.BackendSQL:
		registry, err := sqlstore.NewRegistry(sqlConfig)
		if err != nil {
			return nil, err
		}
		b.Registry = registry

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Registry.Redis.Addr,
			Password: cfg.Registry.Redis.Password,
			DB:       cfg.Registry.Redis.DB,
		})
		b.closers = append(b.closers, client.Close)

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		b.Registry = redis.NewRegistry(client,
			redis.WithPrefix(cfg.Registry.Redis.Prefix),
			redis.WithStaleAfter(cfg.Registry.StaleAfter))

	case config.BackendNATS:
		nc, err := nats.Connect(cfg.Registry.NATS.URL, nats.Name("abacus-account"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		b.closers = append(b.closers, func() error { nc.Close(); return nil })

		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create jetstream context: %w", err)
		}
		kv, err := natskv.EnsureBucket(ctx, js, cfg.Registry.NATS.Bucket, 2*cfg.Registry.StaleAfter)
		if err != nil {
			return nil, err
		}
		b.Registry = natskv.NewRegistry(kv, natskv.WithStaleAfter(cfg.Registry.StaleAfter))

	case config.BackendMemory:
		b.Registry = memory.NewRegistry(memory.WithStaleAfter(cfg.Registry.StaleAfter))

	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}

	return b, nil
}
