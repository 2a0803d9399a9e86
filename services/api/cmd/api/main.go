package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"recipeshare/internal/util"
	"recipeshare/pkg/storage"
	"recipeshare/services/api/internal/app"
	"recipeshare/services/api/internal/config"
	"recipeshare/services/api/internal/server"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	storeTimeout, err := config.ParseDuration("storeTimeout", cfg.StoreTimeout)
	if err != nil {
		log.Fatalf("failed to parse store timeout: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCore, err := app.New(ctx, app.Config{
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
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		CleanupStream: cfg.CleanupStream,
		ScanLimit:     cfg.ScanLimit,
		StoreTimeout:  storeTimeout,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Warn("close app", "err", err)
		}
	}()

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		SessionSecret:            cfg.SessionSecret,
		SessionCookieName:        cfg.SessionCookieName,
		SessionCookieSecure:      cfg.SessionCookieSecure,
		SessionTTL:               sessionTTL,
		MaxBodyBytes:             cfg.MaxBodyBytes,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		TrustedProxies:           trustedProxies,
		AllowedOrigins:           cfg.AllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "err", err)
		}
	}()

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
