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
	"recipeshare/internal/session"
	"recipeshare/pkg/queue"
	"recipeshare/pkg/repository"
	"recipeshare/pkg/storage"
	"recipeshare/pkg/store"
)

// Config holds runtime configuration for the core application.
// Store, Objects and Redis are injected as is when set.
type Config struct {
	DatabaseURL   string
	ObjectStore   storage.DriverConfig
	RedisAddr     string
	RedisPassword string
	CleanupStream string
	ScanLimit     int
	StoreTimeout  time.Duration
	Metrics       *metrics.Metrics

	Store   store.Store
	Objects storage.ObjectStore
	Redis   *redis.Client
}

// App owns the store clients and the repositories built on them.
type App struct {
	store     store.Store
	objects   storage.ObjectStore
	redis     *redis.Client
	cleanup   *queue.RedisCleanupQueue
	metrics   *metrics.Metrics
	recipes   *repository.RecipeRepository
	users     *repository.UserRepository
	favorites *repository.FavoriteRepository
}

// New constructs the clients once and injects them into the repositories.
func New(ctx context.Context, cfg Config) (*App, error) {
	a := &App{metrics: cfg.Metrics, redis: cfg.Redis}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}

	a.store = cfg.Store
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

	a.objects = cfg.Objects
	if a.objects == nil {
		objects, err := storage.Open(ctx, cfg.ObjectStore)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.objects = objects
	}

	if a.redis == nil && strings.TrimSpace(cfg.RedisAddr) != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	if a.redis != nil {
		q, err := queue.NewRedisCleanupQueue(queue.Config{Client: a.redis, Stream: cfg.CleanupStream})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("init cleanup queue: %w", err)
		}
		a.cleanup = q
	}

	opts := repository.DefaultOptions()
	opts.Timeout = durationOr(cfg.StoreTimeout, repository.DefaultTimeout)
	opts.ScanLimit = cfg.ScanLimit
	opts.Metrics = a.metrics
	opts.Logger = slog.Default().With("component", "repository")
	if a.cleanup != nil {
		opts.Cleanup = a.cleanup
	}

	a.recipes = repository.NewRecipeRepository(a.store, a.objects, opts)
	a.users = repository.NewUserRepository(a.store, opts)
	a.favorites = repository.NewFavoriteRepository(a.store, opts)
	return a, nil
}

func (a *App) Recipes() *repository.RecipeRepository     { return a.recipes }
func (a *App) Users() *repository.UserRepository         { return a.users }
func (a *App) Favorites() *repository.FavoriteRepository { return a.favorites }
func (a *App) Metrics() *metrics.Metrics                 { return a.metrics }

// Redis returns the shared Redis client, or nil when none is configured.
func (a *App) Redis() *redis.Client { return a.redis }

// Revoker returns the session revoker matching the deployment: shared via
// Redis when available, in-process otherwise.
func (a *App) Revoker() session.Revoker {
	if a.redis != nil {
		return session.NewRedisRevoker(a.redis, "")
	}
	return session.NewMemoryRevoker()
}

// Ready pings the stores the API cannot work without.
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
	if a.cleanup != nil {
		errs = append(errs, a.cleanup.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
