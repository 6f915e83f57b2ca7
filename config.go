package whatsapp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agendaautomatizada/whatsapp/api"
)

const (
	// DefaultListen is the default TCP endpoint the gateway binds to.
	DefaultListen = ":8784"
	// DefaultListenProto controls the scheme used when no protocol is configured.
	DefaultListenProto = "tcp"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultWebhookTimeout bounds a single call to an automation webhook
	// or the Graph API. The gateway never retries upstream calls.
	DefaultWebhookTimeout = 15 * time.Second
	// DefaultTTLHours is the lease duration applied when a lock request
	// omits ttlHours and the operator has no default of their own.
	DefaultTTLHours = api.DefaultTTLHours
	// DefaultShutdownTimeout caps graceful shutdown duration.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// DefaultConfigDir returns the default configuration directory
// ($HOME/.livechatd, overridable with LIVECHAT_CONFIG_DIR).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("LIVECHAT_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".livechatd"), nil
}

// Config describes a gateway instance.
type Config struct {
	// Listen is the server bind address (for example ":8784").
	Listen string
	// ListenProto selects listener type (for example "tcp" or "unix").
	ListenProto string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// EnableProfilingMetrics enables runtime profiling metrics on the metrics endpoint.
	EnableProfilingMetrics bool
	// OTLPEndpoint enables OTLP trace export to the given collector endpoint.
	OTLPEndpoint string
	// DisableHTTPTracing disables OpenTelemetry spans for HTTP handlers.
	DisableHTTPTracing bool

	// SettingsPath is the SQLite database holding operator settings.
	// Empty selects the in-memory store (single-operator quickstart).
	SettingsPath string

	// JWTSecret is the HS256 secret verifying operator bearer tokens.
	JWTSecret string
	// StaticTokens maps fixed bearer tokens to operator IDs. Used when
	// JWTSecret is empty.
	StaticTokens map[string]string

	// VerifyToken is the shared secret Meta echoes during webhook
	// subscription handshakes.
	VerifyToken string
	// GraphBaseURL overrides the WhatsApp Cloud API endpoint (tests).
	GraphBaseURL string

	// DefaultWebhookURL is the automation webhook used for operators
	// without one of their own.
	DefaultWebhookURL string
	// DefaultWebhookAuth is the credential sent to DefaultWebhookURL.
	DefaultWebhookAuth string

	// WebhookTimeout bounds each upstream webhook or Graph API call.
	WebhookTimeout time.Duration
	// DefaultTTLHours is the gateway-wide lease default in hours.
	DefaultTTLHours int
	// ShutdownTimeout caps graceful shutdown duration.
	ShutdownTimeout time.Duration
}

// Validate normalizes the configuration and reports invalid combinations.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	switch c.ListenProto {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("config: unsupported listen proto %q", c.ListenProto)
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	if c.JWTSecret == "" && len(c.StaticTokens) == 0 {
		return fmt.Errorf("config: auth requires jwt-secret or static tokens")
	}
	if c.WebhookTimeout == 0 {
		c.WebhookTimeout = DefaultWebhookTimeout
	} else if c.WebhookTimeout < 0 {
		return fmt.Errorf("config: webhook timeout must be > 0")
	}
	if c.DefaultTTLHours == 0 {
		c.DefaultTTLHours = DefaultTTLHours
	}
	if c.DefaultTTLHours < api.MinTTLHours || c.DefaultTTLHours > api.MaxTTLHours {
		return fmt.Errorf("config: default ttl must be between %d and %d hours", api.MinTTLHours, api.MaxTTLHours)
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	} else if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown timeout must be > 0")
	}
	return nil
}
