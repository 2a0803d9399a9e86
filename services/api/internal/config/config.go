package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"recipeshare/pkg/queue"
)

// ConfigPath is read when RECIPESHARE_CONFIG is unset.
const ConfigPath = "config.yaml"

// FileConfig mirrors config.yaml for the api service.
type FileConfig struct {
	Port                     string   `yaml:"port"`
	LogLevel                 string   `yaml:"logLevel"`
	DatabaseURL              string   `yaml:"databaseURL"`
	ObjectStoreDriver        string   `yaml:"objectStoreDriver"`
	ObjectStoreEndpoint      string   `yaml:"objectStoreEndpoint"`
	ObjectStoreAccessKey     string   `yaml:"objectStoreAccessKey"`
	ObjectStoreSecretKey     string   `yaml:"objectStoreSecretKey"`
	ObjectStoreBucket        string   `yaml:"objectStoreBucket"`
	ObjectStoreUseSSL        bool     `yaml:"objectStoreUseSSL"`
	ObjectStoreRegion        string   `yaml:"objectStoreRegion"`
	ObjectStoreDir           string   `yaml:"objectStoreDir"`
	SessionSecret            string   `yaml:"sessionSecret"`
	SessionCookieName        string   `yaml:"sessionCookieName"`
	SessionCookieSecure      bool     `yaml:"sessionCookieSecure"`
	SessionTTL               string   `yaml:"sessionTTL"`
	RedisAddr                string   `yaml:"redisAddr"`
	RedisPassword            string   `yaml:"redisPassword"`
	CleanupStream            string   `yaml:"cleanupStream"`
	ScanLimit                int      `yaml:"scanLimit"`
	MaxBodyBytes             int64    `yaml:"maxBodyBytes"`
	StoreTimeout             string   `yaml:"storeTimeout"`
	SignupRateLimitPerMinute int      `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int      `yaml:"loginRateLimitPerMinute"`
	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	AllowedOrigins           []string `yaml:"allowedOrigins"`
}

// Path returns the config file location, honoring RECIPESHARE_CONFIG.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("RECIPESHARE_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides for secrets and endpoints.
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
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("SESSION_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SessionCookieSecure = b
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("RECIPESHARE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("RECIPESHARE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("RECIPESHARE_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("RECIPESHARE_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("RECIPESHARE_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.ObjectStoreDriver == "" {
		cfg.ObjectStoreDriver = "minio"
	}
	if cfg.CleanupStream == "" {
		cfg.CleanupStream = queue.DefaultStream
	}
	if cfg.ScanLimit == 0 {
		cfg.ScanLimit = 10
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.SessionSecret) < 32 {
		return errors.New("config: sessionSecret must be at least 32 bytes (set in config.yaml or SESSION_SECRET)")
	}
	switch cfg.ObjectStoreDriver {
	case "minio", "s3":
		if strings.TrimSpace(cfg.ObjectStoreBucket) == "" {
			return errors.New("config: objectStoreBucket is required for the minio and s3 drivers")
		}
		if cfg.ObjectStoreDriver == "minio" && strings.TrimSpace(cfg.ObjectStoreEndpoint) == "" {
			return errors.New("config: objectStoreEndpoint is required for the minio driver")
		}
	case "file":
		if strings.TrimSpace(cfg.ObjectStoreDir) == "" {
			return errors.New("config: objectStoreDir is required for the file driver")
		}
	default:
		return fmt.Errorf("config: unknown objectStoreDriver %q (minio, s3 or file)", cfg.ObjectStoreDriver)
	}
	if cfg.ScanLimit < 0 || cfg.MaxBodyBytes < 0 {
		return errors.New("config: scanLimit and maxBodyBytes must be >= 0")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseDuration("sessionTTL", cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("storeTimeout", cfg.StoreTimeout); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration field. Empty means zero, which
// callers treat as "use the default".
func ParseDuration(field, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must be >= 0", field)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
