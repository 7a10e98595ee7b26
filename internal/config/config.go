// Package config provides YAML configuration parsing for the liveline
// server binary.
//
// Example configuration:
//
//	address: ":8080"
//	trusted_proxies: ["127.0.0.1", "10.0.0.0/8"]
//	csrf_header: X-Csrf-Protection
//	csrf_exception_path: "^/webhooks/"
//	secure_cookies: true
//
//	limits:
//	  max_fields: 256
//	  max_file_size: 33554432
//
//	live:
//	  heartbeat_interval: 30s
//	  update_interval: 5m
//	  abandon_timeout: 30s
package config

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liveline-dev/liveline/pkg/server"
)

// Config is the root configuration structure. It maps directly to the YAML
// configuration file.
type Config struct {
	// Address is the listen address. Defaults to ":8080".
	Address string `yaml:"address"`

	// TrustedProxies lists IPs or CIDRs whose forwarded headers are honored.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// CSRFHeader is the custom header exempting non-GET requests from CSRF
	// rejection. Defaults to "X-Csrf-Protection".
	CSRFHeader string `yaml:"csrf_header"`

	// CSRFExceptionPath is a pattern of pathnames allowed to skip the CSRF
	// header check.
	CSRFExceptionPath string `yaml:"csrf_exception_path"`

	// SecureCookies controls the Secure attribute and name prefix on
	// written cookies. Defaults to true.
	SecureCookies *bool `yaml:"secure_cookies"`

	// SameSite is the SameSite cookie mode: "lax", "strict" or "none".
	// Defaults to "lax".
	SameSite string `yaml:"same_site"`

	// TempDir is where per-request upload directories are created.
	TempDir string `yaml:"temp_dir"`

	// Limits configure body ingestion.
	Limits LimitsConfig `yaml:"limits"`

	// Live configures live-connection timing.
	Live LiveConfig `yaml:"live"`

	// ProxyConnectTimeout bounds content-proxy connection establishment.
	ProxyConnectTimeout Duration `yaml:"proxy_connect_timeout"`

	// ProxyStreamTimeout bounds total content-proxy fetch time.
	ProxyStreamTimeout Duration `yaml:"proxy_stream_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// Metrics enables Prometheus instrumentation. Defaults to true.
	Metrics *bool `yaml:"metrics"`
}

// LimitsConfig mirrors server.BodyLimits in the YAML file. Zero values fall
// back to the server defaults.
type LimitsConfig struct {
	MaxHeaderPairs     int   `yaml:"max_header_pairs"`
	MaxFields          int   `yaml:"max_fields"`
	MaxFieldNameLength int   `yaml:"max_field_name_length"`
	MaxFieldSize       int64 `yaml:"max_field_size"`
	MaxFiles           int   `yaml:"max_files"`
	MaxFileSize        int64 `yaml:"max_file_size"`
	MaxFilenameLength  int   `yaml:"max_filename_length"`
}

// LiveConfig mirrors server.LiveConfig in the YAML file.
type LiveConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	UpdateInterval    Duration `yaml:"update_interval"`
	AbandonTimeout    Duration `yaml:"abandon_timeout"`
}

// Duration wraps time.Duration so YAML values like "30s" or "5m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for errors a typo would produce.
func (c *Config) Validate() error {
	if c.CSRFExceptionPath != "" {
		if _, err := regexp.Compile(c.CSRFExceptionPath); err != nil {
			return fmt.Errorf("config: invalid csrf_exception_path: %w", err)
		}
	}
	switch c.SameSite {
	case "", "lax", "strict", "none":
	default:
		return fmt.Errorf("config: invalid same_site %q (want lax, strict or none)", c.SameSite)
	}
	if c.Live.HeartbeatInterval < 0 || c.Live.UpdateInterval < 0 || c.Live.AbandonTimeout < 0 {
		return fmt.Errorf("config: live intervals must not be negative")
	}
	if c.Live.HeartbeatInterval > 0 && c.Live.HeartbeatInterval.Duration() < time.Second {
		return fmt.Errorf("config: heartbeat_interval below 1s would flood idle connections")
	}
	return nil
}

// ServerConfig converts the file configuration into the server's runtime
// configuration, applying defaults for everything left unset.
func (c *Config) ServerConfig() *server.ServerConfig {
	sc := server.DefaultServerConfig()

	if c.Address != "" {
		sc.Address = c.Address
	}
	sc.TrustedProxies = c.TrustedProxies
	if c.CSRFHeader != "" {
		sc.CSRFHeader = c.CSRFHeader
	}
	if c.CSRFExceptionPath != "" {
		sc.CSRFExceptionPath = regexp.MustCompile(c.CSRFExceptionPath)
	}
	if c.SecureCookies != nil {
		sc.SecureCookies = *c.SecureCookies
	}
	switch c.SameSite {
	case "strict":
		sc.SameSiteMode = http.SameSiteStrictMode
	case "none":
		sc.SameSiteMode = http.SameSiteNoneMode
	}
	if c.TempDir != "" {
		sc.TempDir = c.TempDir
	}

	if c.Limits.MaxHeaderPairs > 0 {
		sc.Limits.MaxHeaderPairs = c.Limits.MaxHeaderPairs
	}
	if c.Limits.MaxFields > 0 {
		sc.Limits.MaxFields = c.Limits.MaxFields
	}
	if c.Limits.MaxFieldNameLength > 0 {
		sc.Limits.MaxFieldNameLength = c.Limits.MaxFieldNameLength
	}
	if c.Limits.MaxFieldSize > 0 {
		sc.Limits.MaxFieldSize = c.Limits.MaxFieldSize
	}
	if c.Limits.MaxFiles > 0 {
		sc.Limits.MaxFiles = c.Limits.MaxFiles
	}
	if c.Limits.MaxFileSize > 0 {
		sc.Limits.MaxFileSize = c.Limits.MaxFileSize
	}
	if c.Limits.MaxFilenameLength > 0 {
		sc.Limits.MaxFilenameLength = c.Limits.MaxFilenameLength
	}

	if c.Live.HeartbeatInterval > 0 {
		sc.Live.HeartbeatInterval = c.Live.HeartbeatInterval.Duration()
	}
	if c.Live.UpdateInterval > 0 {
		sc.Live.UpdateInterval = c.Live.UpdateInterval.Duration()
	}
	if c.Live.AbandonTimeout > 0 {
		sc.Live.AbandonTimeout = c.Live.AbandonTimeout.Duration()
	}

	if c.ProxyConnectTimeout > 0 {
		sc.ProxyConnectTimeout = c.ProxyConnectTimeout.Duration()
	}
	if c.ProxyStreamTimeout > 0 {
		sc.ProxyStreamTimeout = c.ProxyStreamTimeout.Duration()
	}
	if c.ShutdownTimeout > 0 {
		sc.ShutdownTimeout = c.ShutdownTimeout.Duration()
	}

	return sc
}

// MetricsEnabled reports whether Prometheus instrumentation is on.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}
