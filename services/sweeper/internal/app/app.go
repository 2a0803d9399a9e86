package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"recipeshare/internal/metrics"
	"recipeshare/pkg/queue"
	"recipeshare/pkg/repository"
	"recipeshare/pkg/storage"
	"recipeshare/pkg/store"
	"recipeshare/services/sweeper/internal/sweep"
)

// Config holds runtime configuration for the sweeper.
type Config struct {
	DatabaseURL       string
	ObjectStore       storage.DriverConfig
	RedisAddr         string
	RedisPassword     string
	CleanupStream     string
	CleanupGroup      string
	QueueMaxRetries   int
	Grace             time.Duration
	DeleteConcurrency int
	DryRun            bool

	Store   store.Store
	Objects storage.ObjectStore
}

// App owns the clients a sweep needs.
type App struct {
	store   store.Store
	objects storage.ObjectStore
	redis   *redis.Client
	queue   *queue.RedisCleanupQueue
	metrics *metrics.Metrics
	sweeper *sweep.Sweeper
}

func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{metrics: metrics.New(), store: cfg.Store, objects: cfg.Objects}
	if a.store == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("database URL required")
		}
		s, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.store = s
	}
	if a.objects == nil {
		objects, err := storage.Open(ctx, cfg.ObjectStore)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.objects = objects
	}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		q, err := queue.NewRedisCleanupQueue(queue.Config{
			Client:     a.redis,
			Stream:     cfg.CleanupStream,
			Group:      cfg.CleanupGroup,
			MaxRetries: cfg.QueueMaxRetries,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("init cleanup queue: %w", err)
		}
		a.queue = q
	}

	opts := repository.DefaultOptions()
	opts.Logger = slog.Default().With("component", "repository")
	recipes := repository.NewRecipeRepository(a.store, a.objects, opts)
	sw, err := sweep.New(sweep.Config{
		Objects:     a.objects,
		Refs:        recipes,
		Metrics:     a.metrics,
		Logger:      slog.Default().With("component", "sweeper"),
		Grace:       cfg.Grace,
		Concurrency: cfg.DeleteConcurrency,
		DryRun:      cfg.DryRun,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.sweeper = sw
	return a, nil
}

func (a *App) Sweeper() *sweep.Sweeper    { return a.sweeper }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Queue returns the cleanup queue, or nil when Redis is not configured.
func (a *App) Queue() *queue.RedisCleanupQueue { return a.queue }

// Ready pings the record store, the object store and Redis when configured.
func (a *App) Ready(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := a.objects.Ping(ctx); err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close tears the clients down.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
