package storage

import (
	"context"
	"fmt"
)

// DriverConfig selects and configures an ObjectStore implementation.
type DriverConfig struct {
	Driver    string // minio, s3 or file
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	Dir       string
}

// Open builds the configured object store driver.
func Open(ctx context.Context, cfg DriverConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "", "minio":
		s, err := NewMinioStore(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, cfg.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("init minio store: %w", err)
		}
		return s, nil
	case "s3":
		s, err := NewS3Store(ctx, S3Options{
			Region:       cfg.Region,
			BaseEndpoint: cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Bucket:       cfg.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		return s, nil
	case "file":
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init file store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown object store driver %q", cfg.Driver)
	}
}
