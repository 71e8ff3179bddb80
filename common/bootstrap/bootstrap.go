// Package bootstrap wires service dependencies from configuration: logger,
// database, Redis, task queue, cache, and telemetry, with ordered cleanup.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/clearchain/policy-engine/common/cache"
	"github.com/clearchain/policy-engine/common/config"
	"github.com/clearchain/policy-engine/common/db"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/queue"
	"github.com/clearchain/policy-engine/common/telemetry"
	goredis "github.com/redis/go-redis/v9"
)

// Setup initializes all service components for the configured profile.
// The memory profile stays fully in-process; the postgres profile connects
// the database and Redis.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
		"store", components.Config.Engine.Store,
	)

	usePostgres := components.Config.Engine.Store == "postgres"

	if usePostgres && !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	if usePostgres && !options.skipRedis {
		components.Logger.Info("connecting to redis", "addr", components.Config.Redis.Addr)
		components.Redis = goredis.NewClient(&goredis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})

		if err := components.Redis.Ping(ctx).Err(); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		components.addCleanup(func() error {
			return components.Redis.Close()
		})
	}

	if !options.skipQueue {
		if components.Redis != nil {
			components.Queue, err = queue.NewRedisTaskQueue(components.Redis, &components.Config.Engine, components.Logger)
			if err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to initialize redis queue: %w", err)
			}
		} else {
			components.Queue = queue.NewMemoryTaskQueue(options.workerCount, components.Logger)
		}

		components.addCleanup(func() error {
			return components.Queue.Close()
		})
	}

	if !options.skipCache {
		components.Cache = cache.NewMemoryCache(components.Logger)
		components.addCleanup(func() error {
			return components.Cache.Close()
		})
	}

	if !options.skipTelemetry && components.Config.Service.EnablePprof {
		components.Telemetry = telemetry.New(components.Config.Service.PprofPort, components.Logger)
		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
		} else {
			components.addCleanup(func() error {
				return components.Telemetry.Stop(context.Background())
			})
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"cache", components.Cache != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
