package server

import (
	"net/http"
	"regexp"
	"time"
)

// BodyLimits holds the hard limits applied while streaming a request body.
// Any violation fails the request with 413.
type BodyLimits struct {
	// MaxHeaderPairs is the maximum number of MIME header pairs per part.
	// Default: 32.
	MaxHeaderPairs int

	// MaxFields is the maximum number of non-file fields.
	// Default: 256.
	MaxFields int

	// MaxFieldNameLength is the maximum length of a field name in bytes.
	// Default: 256.
	MaxFieldNameLength int

	// MaxFieldSize is the maximum size of a single field value in bytes.
	// Default: 1MB.
	MaxFieldSize int64

	// MaxFiles is the maximum number of uploaded files.
	// Default: 16.
	MaxFiles int

	// MaxFileSize is the maximum size of a single uploaded file in bytes.
	// Default: 32MB.
	MaxFileSize int64

	// MaxFilenameLength is the maximum length of an uploaded filename.
	// Default: 255.
	MaxFilenameLength int
}

// DefaultBodyLimits returns BodyLimits with sensible defaults.
func DefaultBodyLimits() *BodyLimits {
	return &BodyLimits{
		MaxHeaderPairs:     32,
		MaxFields:          256,
		MaxFieldNameLength: 256,
		MaxFieldSize:       1 << 20,
		MaxFiles:           16,
		MaxFileSize:        32 << 20,
		MaxFilenameLength:  255,
	}
}

// LiveConfig holds timing configuration for live connections.
type LiveConfig struct {
	// HeartbeatInterval is the time between blank keep-alive lines written
	// to an attached live response. Default: 30 seconds.
	HeartbeatInterval time.Duration

	// UpdateInterval is the time between forced update passes when no
	// explicit trigger fires. Default: 5 minutes.
	UpdateInterval time.Duration

	// AbandonTimeout is the grace window after the current response closes
	// during which reattachment is still possible. Default: 30 seconds.
	AbandonTimeout time.Duration
}

// DefaultLiveConfig returns a LiveConfig with sensible defaults.
func DefaultLiveConfig() *LiveConfig {
	return &LiveConfig{
		HeartbeatInterval: 30 * time.Second,
		UpdateInterval:    5 * time.Minute,
		AbandonTimeout:    30 * time.Second,
	}
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Address is the address to listen on. Default: ":8080".
	Address string

	// TrustedProxies lists IPs or CIDRs whose forwarded headers are
	// honored for URL reconstruction and client IP derivation.
	TrustedProxies []string

	// CSRFHeader is the custom header whose truthy presence exempts a
	// non-GET request from CSRF rejection. Default: "X-Csrf-Protection".
	CSRFHeader string

	// CSRFExceptionPath is a pattern for pathnames allowed to bypass the
	// CSRF header check (e.g. a webhook endpoint). Empty disables the
	// exception.
	CSRFExceptionPath *regexp.Regexp

	// SecureCookies controls whether written cookies carry the Secure
	// attribute and the secure name prefix. Default: true.
	SecureCookies bool

	// SameSiteMode is the SameSite attribute for written cookies.
	// Default: http.SameSiteLaxMode.
	SameSiteMode http.SameSite

	// Limits are the body ingestion limits.
	Limits *BodyLimits

	// Live is the live-connection timing configuration.
	Live *LiveConfig

	// TempDir is where per-request upload directories are created.
	// Default: the OS temp dir.
	TempDir string

	// ProxyConnectTimeout bounds connection establishment for outbound
	// content-proxy fetches. Default: 30 seconds.
	ProxyConnectTimeout time.Duration

	// ProxyStreamTimeout bounds the total lifetime of an outbound
	// content-proxy fetch. Default: 5 minutes.
	ProxyStreamTimeout time.Duration

	// HTTP server timeouts.
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// ShutdownTimeout is how long graceful shutdown may take before the
	// watchdog forces exit. Default: 10 seconds.
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:             ":8080",
		CSRFHeader:          "X-Csrf-Protection",
		SecureCookies:       true,
		SameSiteMode:        http.SameSiteLaxMode,
		Limits:              DefaultBodyLimits(),
		Live:                DefaultLiveConfig(),
		ProxyConnectTimeout: 30 * time.Second,
		ProxyStreamTimeout:  5 * time.Minute,
		ReadHeaderTimeout:   10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     10 * time.Second,
	}
}
