package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
port: "8080"
databaseURL: postgres://localhost/recipes
objectStoreDriver: file
objectStoreDir: /tmp/blobs
sessionSecret: 0123456789abcdef0123456789abcdef
sessionTTL: 12h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ScanLimit != 10 || cfg.MaxBodyBytes != 10<<20 || cfg.CleanupStream == "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	ttl, err := ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil || ttl != 12*time.Hour {
		t.Fatalf("unexpected ttl %v err=%v", ttl, err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 40))
	t.Setenv("RECIPESHARE_TRUSTED_PROXY_CIDRS", "10.0.0.0/8, 127.0.0.1")
	t.Setenv("RECIPESHARE_LOGIN_RATE_LIMIT_PER_MINUTE", "7")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionSecret != strings.Repeat("s", 40) {
		t.Fatalf("expected env secret override")
	}
	if len(cfg.TrustedProxyCIDRs) != 2 || cfg.TrustedProxyCIDRs[1] != "127.0.0.1" {
		t.Fatalf("unexpected proxies %v", cfg.TrustedProxyCIDRs)
	}
	if cfg.LoginRateLimitPerMinute != 7 {
		t.Fatalf("unexpected login limit %d", cfg.LoginRateLimitPerMinute)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"short secret":   strings.Replace(validYAML, "0123456789abcdef0123456789abcdef", "short", 1),
		"missing dir":    strings.Replace(validYAML, "objectStoreDir: /tmp/blobs", "", 1),
		"unknown driver": strings.Replace(validYAML, "objectStoreDriver: file", "objectStoreDriver: ftp", 1),
		"bad ttl":        strings.Replace(validYAML, "sessionTTL: 12h", "sessionTTL: soon", 1),
		"minio bucket":   strings.Replace(validYAML, "objectStoreDriver: file", "objectStoreDriver: minio", 1),
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestPathHonorsEnv(t *testing.T) {
	t.Setenv("RECIPESHARE_CONFIG", "/etc/recipeshare.yaml")
	if got := Path(); got != "/etc/recipeshare.yaml" {
		t.Fatalf("unexpected path %q", got)
	}
}
