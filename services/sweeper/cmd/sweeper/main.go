package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"recipeshare/internal/util"
	"recipeshare/pkg/storage"
	"recipeshare/services/sweeper/internal/app"
	"recipeshare/services/sweeper/internal/config"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "sweeper",
		Short:        "Delete recipe images that no recipe references",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.Path(), "path to config.yaml")

	var dryRun bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := setup(ctx, cfg, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Sweeper().Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d orphans=%d deleted=%d dry_run=%t\n",
				res.Scanned, len(res.Orphans), res.Deleted, dryRun)
			return nil
		},
	}
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without deleting them")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Sweep on a schedule and consume the cleanup queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath)
		},
	}

	root.AddCommand(runCmd, serveCmd)
	return root
}

func setup(ctx context.Context, cfg config.FileConfig, dryRun bool) (*app.App, error) {
	util.InitLogger("sweeper", cfg.LogLevel)
	grace, err := config.GracePeriod(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, app.Config{
		DatabaseURL: cfg.DatabaseURL,
		ObjectStore: storage.DriverConfig{
			Driver:    cfg.ObjectStoreDriver,
			Endpoint:  cfg.ObjectStoreEndpoint,
			AccessKey: cfg.ObjectStoreAccessKey,
			SecretKey: cfg.ObjectStoreSecretKey,
			Bucket:    cfg.ObjectStoreBucket,
			UseSSL:    cfg.ObjectStoreUseSSL,
			Region:    cfg.ObjectStoreRegion,
			Dir:       cfg.ObjectStoreDir,
		},
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPassword,
		CleanupStream:     cfg.CleanupStream,
		CleanupGroup:      cfg.CleanupGroup,
		QueueMaxRetries:   cfg.QueueMaxRetries,
		Grace:             grace,
		DeleteConcurrency: cfg.DeleteConcurrency,
		DryRun:            dryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}
	return a, nil
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := setup(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Schedule, func() {
		if _, err := a.Sweeper().Run(ctx); err != nil {
			slog.Warn("scheduled sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	if q := a.Queue(); q != nil {
		q.Start(ctx, cfg.QueueConcurrency, a.Sweeper().HandleJob)
	} else {
		slog.Info("redis not configured, cleanup queue disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics().Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Ready(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      util.WithRequestID(util.WithRequestLog(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("sweeper listening", "addr", addr, "schedule", cfg.Schedule)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
