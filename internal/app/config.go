package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (TAVOLO_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (TAVOLO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Gateway     GatewayConfig
	Webhook     WebhookConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// GatewayConfig holds the payment provider credentials and endpoint. All
// three values are required: a process without them cannot take payments and
// must not start.
type GatewayConfig struct {
	BaseURL      string        `usage:"Payment gateway base URL" flag:"gateway-base-url"`
	ClientID     string        `usage:"Payment gateway client id" flag:"gateway-client-id"`
	ClientSecret string        `usage:"Payment gateway client secret" flag:"gateway-client-secret"`
	Timeout      time.Duration `default:"10s" usage:"Per-call gateway timeout" flag:"gateway-timeout"`
}

// WebhookConfig holds the shared secret for verifying gateway notifications.
type WebhookConfig struct {
	Secret string `usage:"Shared secret for webhook signatures (TAVOLO_WEBHOOK_SECRET)" flag:"webhook-secret"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and flags, then validates that every secret the payment path needs
// is present. Missing secrets are a fatal startup error, never a runtime one.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "TAVOLO",
		Files:     []string{"config.yaml", "/etc/tavolo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	switch {
	case cfg.DatabaseURL == "":
		return nil, errors.New("database URL is required: set TAVOLO_DATABASE_URL or DATABASE_URL")
	case cfg.Gateway.BaseURL == "":
		return nil, errors.New("gateway base URL is required: set TAVOLO_GATEWAY_BASE_URL")
	case cfg.Gateway.ClientID == "" || cfg.Gateway.ClientSecret == "":
		return nil, errors.New("gateway credentials are required: set TAVOLO_GATEWAY_CLIENT_ID and TAVOLO_GATEWAY_CLIENT_SECRET")
	case cfg.Webhook.Secret == "":
		return nil, errors.New("webhook secret is required: set TAVOLO_WEBHOOK_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's TAVOLO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
