package config

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullConfig = `
address: ":9000"
trusted_proxies: ["127.0.0.1", "10.0.0.0/8"]
csrf_header: X-App-Request
csrf_exception_path: "^/webhooks/"
secure_cookies: false
same_site: strict
temp_dir: /var/tmp/liveline

limits:
  max_fields: 64
  max_field_size: 2048
  max_files: 4
  max_file_size: 1048576

live:
  heartbeat_interval: 15s
  update_interval: 2m
  abandon_timeout: 45s

proxy_stream_timeout: 3m
shutdown_timeout: 20s
metrics: false
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Address != ":9000" {
		t.Errorf("Address = %q, want :9000", cfg.Address)
	}
	if len(cfg.TrustedProxies) != 2 {
		t.Errorf("TrustedProxies = %v, want 2 entries", cfg.TrustedProxies)
	}
	if cfg.Live.HeartbeatInterval.Duration() != 15*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 15s", cfg.Live.HeartbeatInterval.Duration())
	}
	if cfg.MetricsEnabled() {
		t.Error("metrics should be disabled")
	}
}

func TestParseEmptyConfigUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sc := cfg.ServerConfig()

	if sc.Address != ":8080" {
		t.Errorf("Address = %q, want :8080", sc.Address)
	}
	if sc.CSRFHeader != "X-Csrf-Protection" {
		t.Errorf("CSRFHeader = %q", sc.CSRFHeader)
	}
	if !sc.SecureCookies {
		t.Error("SecureCookies should default to true")
	}
	if sc.SameSiteMode != http.SameSiteLaxMode {
		t.Errorf("SameSiteMode = %v, want Lax", sc.SameSiteMode)
	}
	if sc.Live.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", sc.Live.HeartbeatInterval)
	}
	if sc.Limits.MaxFileSize != 32<<20 {
		t.Errorf("MaxFileSize = %d, want 32MB", sc.Limits.MaxFileSize)
	}
	if !cfg.MetricsEnabled() {
		t.Error("metrics should default to enabled")
	}
}

func TestServerConfigConversion(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sc := cfg.ServerConfig()

	if sc.CSRFHeader != "X-App-Request" {
		t.Errorf("CSRFHeader = %q", sc.CSRFHeader)
	}
	if sc.CSRFExceptionPath == nil || !sc.CSRFExceptionPath.MatchString("/webhooks/stripe") {
		t.Error("CSRFExceptionPath should match /webhooks/stripe")
	}
	if sc.SecureCookies {
		t.Error("SecureCookies should be off")
	}
	if sc.SameSiteMode != http.SameSiteStrictMode {
		t.Errorf("SameSiteMode = %v, want Strict", sc.SameSiteMode)
	}
	if sc.Limits.MaxFields != 64 {
		t.Errorf("MaxFields = %d, want 64", sc.Limits.MaxFields)
	}
	// Unset limits keep their defaults.
	if sc.Limits.MaxFieldNameLength != 256 {
		t.Errorf("MaxFieldNameLength = %d, want default 256", sc.Limits.MaxFieldNameLength)
	}
	if sc.Live.UpdateInterval != 2*time.Minute {
		t.Errorf("UpdateInterval = %v, want 2m", sc.Live.UpdateInterval)
	}
	if sc.ProxyStreamTimeout != 3*time.Minute {
		t.Errorf("ProxyStreamTimeout = %v, want 3m", sc.ProxyStreamTimeout)
	}
	// Unset proxy connect timeout keeps its default.
	if sc.ProxyConnectTimeout != 30*time.Second {
		t.Errorf("ProxyConnectTimeout = %v, want default 30s", sc.ProxyConnectTimeout)
	}
	if sc.ShutdownTimeout != 20*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 20s", sc.ShutdownTimeout)
	}
	if sc.TempDir != "/var/tmp/liveline" {
		t.Errorf("TempDir = %q", sc.TempDir)
	}
}

func TestParseInvalidDuration(t *testing.T) {
	_, err := Parse([]byte("shutdown_timeout: quickly"))
	if err == nil {
		t.Fatal("expected error for unparseable duration")
	}
	if !strings.Contains(err.Error(), "quickly") {
		t.Errorf("err = %v, should quote the bad value", err)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("address: [broken")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad regexp", `csrf_exception_path: "("`, "csrf_exception_path"},
		{"bad same_site", `same_site: sideways`, "same_site"},
		{"negative interval", "live:\n  abandon_timeout: -5s", "negative"},
		{"tiny heartbeat", "live:\n  heartbeat_interval: 10ms", "heartbeat_interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, should mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("address: \":7000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address != ":7000" {
		t.Errorf("Address = %q, want :7000", cfg.Address)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
