package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	RatePerSecond     float64 `yaml:"ratePerSecond"`
	Burst             int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string  `yaml:"serviceName"`
	Metrics       bool    `yaml:"metrics"`
	Tracing       bool    `yaml:"tracing"`
	LogRequests   bool    `yaml:"logRequests"`
	MetricsPrefix string  `yaml:"metricsPrefix"`
	OTLPEndpoint  string  `yaml:"otlpEndpoint"`
	OTLPInsecure  bool    `yaml:"otlpInsecure"`
	OTLPMetrics   bool    `yaml:"otlpMetrics"`
	OTLPHeaders   string  `yaml:"otlpHeaders"`
	SampleRatio   float64 `yaml:"sampleRatio"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type Config struct {
	ListenAddress   string              `yaml:"listen"`
	ReadTimeout     time.Duration       `yaml:"readTimeout"`
	WriteTimeout    time.Duration       `yaml:"writeTimeout"`
	IdleTimeout     time.Duration       `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdownTimeout"`
	RateLimits      []RateLimitConfig   `yaml:"rateLimits"`
	Observability   ObservabilityConfig `yaml:"observability"`
	Auth            AuthConfig          `yaml:"auth"`
	CORS            CORSConfig          `yaml:"cors"`
}

// AuthConfig controls bearer-token authentication of mutating routes. The
// token's subject claim is the caller address.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	WriteScope string        `yaml:"writeScope"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
	// ReplayStore is a LevelDB directory recording used token ids. Empty
	// allows a token to be reused until it expires.
	ReplayStore string `yaml:"replayStore"`
	enabledSet  bool   `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled     *bool         `yaml:"enabled"`
		HMACSecret  string        `yaml:"hmacSecret"`
		Issuer      string        `yaml:"issuer"`
		Audience    string        `yaml:"audience"`
		ScopeClaim  string        `yaml:"scopeClaim"`
		WriteScope  string        `yaml:"writeScope"`
		ClockSkew   time.Duration `yaml:"clockSkew"`
		ReplayStore string        `yaml:"replayStore"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		a.Enabled = *raw.Enabled
		a.enabledSet = true
	} else {
		a.Enabled = false
		a.enabledSet = false
	}
	a.HMACSecret = raw.HMACSecret
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.ScopeClaim = raw.ScopeClaim
	a.WriteScope = raw.WriteScope
	a.ClockSkew = raw.ClockSkew
	a.ReplayStore = strings.TrimSpace(raw.ReplayStore)
	return nil
}

func defaults() Config {
	return Config{
		ListenAddress:   ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Observability: ObservabilityConfig{
			ServiceName:   "nftmarket-gateway",
			Metrics:       true,
			Tracing:       false,
			LogRequests:   true,
			MetricsPrefix: "gateway",
		},
		Auth: AuthConfig{
			Enabled:    true,
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
			enabledSet: true,
		},
	}
}

// Load reads the gateway YAML at path over the defaults. An empty path
// returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		cfg.applyAuthDefaults()
		if err := cfg.Validate(""); err != nil {
			return Config{}, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyAuthDefaults()
	if err := cfg.Validate(""); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyAuthDefaults() {
	if cfg == nil {
		return
	}
	if !cfg.Auth.enabledSet {
		cfg.Auth.Enabled = true
		cfg.Auth.enabledSet = true
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
}

var (
	ErrAuthSecretMissing      = errors.New("auth.hmacSecret is required when auth is enabled")
	ErrAuthDisabledOutsideDev = errors.New("auth.enabled=false is only permitted in the dev environment")
)

// Validate checks the configuration. env is the node environment; disabling
// authentication is only accepted when it is "dev" or empty.
func (cfg *Config) Validate(env string) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address is required")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" && !isDevEnv(env) {
		return ErrAuthSecretMissing
	}
	if !cfg.Auth.Enabled && !isDevEnv(env) {
		return ErrAuthDisabledOutsideDev
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, limit := range cfg.RateLimits {
		id := strings.TrimSpace(limit.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rateLimits[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		if limit.RequestsPerMinute < 0 || limit.RatePerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("rateLimits[%d]: values must be non-negative", i)
		}
		cfg.RateLimits[i].ID = id
	}
	return nil
}

// isDevEnv treats an unset environment as dev so Load("") works for local use.
func isDevEnv(env string) bool {
	trimmed := strings.TrimSpace(env)
	return trimmed == "" || strings.EqualFold(trimmed, "dev")
}
