package cmd

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"crudstress/internal/config"
	"crudstress/internal/orchestrator"
	"crudstress/internal/target"
	"crudstress/internal/target/elastic"
	"crudstress/internal/target/memory"
	"crudstress/internal/target/mongo"
	"crudstress/internal/target/postgres"
)

// connectTimeout bounds how long one store may take to come up.
const connectTimeout = 15 * time.Second

var errInjected = errors.New("injected fault")

// buildRegistry maps every known target name to a factory reading its
// section of cfg.
func buildRegistry(cfg config.Config, log *zap.Logger) orchestrator.Registry {
	return orchestrator.Registry{
		"postgres": func(ctx context.Context) (target.Target, error) {
			ctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return postgres.New(ctx, postgres.Config{
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				Table:    cfg.Postgres.Table,
				// one pinned connection per worker plus one for reset and count
				MaxConns: cfg.WorkersFor("postgres") + 1,
			}, log.Named("postgres"))
		},
		"mongo": func(ctx context.Context) (target.Target, error) {
			ctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return mongo.New(ctx, mongo.Config{
				URI:            cfg.Mongo.URI,
				Database:       cfg.Mongo.Database,
				Collection:     cfg.Mongo.Collection,
				WriteConcern:   cfg.Mongo.WriteConcern,
				PoolSize:       cfg.Mongo.PoolSize,
				ConnectTimeout: connectTimeout,
			}, log.Named("mongo"))
		},
		"elastic": func(ctx context.Context) (target.Target, error) {
			ctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return elastic.New(ctx, elastic.Config{
				Addresses: cfg.Elastic.Addresses,
				Username:  cfg.Elastic.Username,
				Password:  cfg.Elastic.Password,
				Index:     cfg.Elastic.Index,
				Refresh:   cfg.Elastic.Refresh,
			}, log.Named("elastic"))
		},
		"memory": func(context.Context) (target.Target, error) {
			mc := memory.Config{
				Latency: cfg.Memory.Latency,
				Jitter:  cfg.Memory.Jitter,
			}
			if cfg.Memory.FailRate > 0 {
				mc.Fault = memory.FailRate(cfg.Memory.FailRate, errInjected)
			}
			return memory.New(mc), nil
		},
	}
}
