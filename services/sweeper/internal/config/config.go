package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
	"recipeshare/pkg/queue"
)

// ConfigPath is read when RECIPESHARE_SWEEPER_CONFIG is unset.
const ConfigPath = "config.yaml"

// FileConfig mirrors config.yaml for the sweeper service.
type FileConfig struct {
	Port                 string `yaml:"port"`
	LogLevel             string `yaml:"logLevel"`
	DatabaseURL          string `yaml:"databaseURL"`
	ObjectStoreDriver    string `yaml:"objectStoreDriver"`
	ObjectStoreEndpoint  string `yaml:"objectStoreEndpoint"`
	ObjectStoreAccessKey string `yaml:"objectStoreAccessKey"`
	ObjectStoreSecretKey string `yaml:"objectStoreSecretKey"`
	ObjectStoreBucket    string `yaml:"objectStoreBucket"`
	ObjectStoreUseSSL    bool   `yaml:"objectStoreUseSSL"`
	ObjectStoreRegion    string `yaml:"objectStoreRegion"`
	ObjectStoreDir       string `yaml:"objectStoreDir"`
	RedisAddr            string `yaml:"redisAddr"`
	RedisPassword        string `yaml:"redisPassword"`
	CleanupStream        string `yaml:"cleanupStream"`
	CleanupGroup         string `yaml:"cleanupGroup"`
	QueueConcurrency     int    `yaml:"queueConcurrency"`
	QueueMaxRetries      int    `yaml:"queueMaxRetries"`
	Schedule             string `yaml:"schedule"`
	GracePeriod          string `yaml:"gracePeriod"`
	DeleteConcurrency    int    `yaml:"deleteConcurrency"`
}

// Path returns the config file location, honoring RECIPESHARE_SWEEPER_CONFIG.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("RECIPESHARE_SWEEPER_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path and applies environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("OBJECT_STORE_DRIVER"); v != "" {
		cfg.ObjectStoreDriver = strings.TrimSpace(v)
	}
	if v := os.Getenv("OBJECT_STORE_ENDPOINT"); v != "" {
		cfg.ObjectStoreEndpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("OBJECT_STORE_ACCESS_KEY"); v != "" {
		cfg.ObjectStoreAccessKey = v
	}
	if v := os.Getenv("OBJECT_STORE_SECRET_KEY"); v != "" {
		cfg.ObjectStoreSecretKey = v
	}
	if v := os.Getenv("OBJECT_STORE_BUCKET"); v != "" {
		cfg.ObjectStoreBucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("RECIPESHARE_SWEEP_SCHEDULE"); v != "" {
		cfg.Schedule = strings.TrimSpace(v)
	}
	if v := os.Getenv("RECIPESHARE_SWEEP_GRACE_PERIOD"); v != "" {
		cfg.GracePeriod = strings.TrimSpace(v)
	}
	if v := os.Getenv("RECIPESHARE_SWEEP_DELETE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DeleteConcurrency = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8091"
	}
	if cfg.ObjectStoreDriver == "" {
		cfg.ObjectStoreDriver = "minio"
	}
	if cfg.CleanupStream == "" {
		cfg.CleanupStream = queue.DefaultStream
	}
	if cfg.CleanupGroup == "" {
		cfg.CleanupGroup = "sweeper"
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 1
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.GracePeriod == "" {
		cfg.GracePeriod = "15m"
	}
	if cfg.DeleteConcurrency == 0 {
		cfg.DeleteConcurrency = 4
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.ObjectStoreDriver {
	case "minio", "s3":
		if strings.TrimSpace(cfg.ObjectStoreBucket) == "" {
			return errors.New("config: objectStoreBucket is required for the minio and s3 drivers")
		}
	case "file":
		if strings.TrimSpace(cfg.ObjectStoreDir) == "" {
			return errors.New("config: objectStoreDir is required for the file driver")
		}
	default:
		return fmt.Errorf("config: unknown objectStoreDriver %q (minio, s3 or file)", cfg.ObjectStoreDriver)
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return fmt.Errorf("config: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if _, err := GracePeriod(cfg); err != nil {
		return err
	}
	if cfg.QueueConcurrency < 0 || cfg.DeleteConcurrency < 0 || cfg.QueueMaxRetries < 0 {
		return errors.New("config: concurrency and retry settings must be >= 0")
	}
	return nil
}

// GracePeriod parses the configured grace period.
func GracePeriod(cfg FileConfig) (time.Duration, error) {
	d, err := time.ParseDuration(cfg.GracePeriod)
	if err != nil {
		return 0, fmt.Errorf("config: invalid gracePeriod duration: %w", err)
	}
	if d < 0 {
		return 0, errors.New("config: gracePeriod must be >= 0")
	}
	return d, nil
}
