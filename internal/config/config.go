// Package config provides configuration helpers that define runtime defaults,
// validation, and admission-control parameters for the foundryhub service.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables. The request limit defaults depend on the
// environment: 60 requests per window in production, 300 otherwise.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names with special handling.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Default values for the server configuration.
const (
	DefaultPort                = ":8080"
	DefaultMaxMessageSize      = 4096
	DefaultProductionRequests  = 60
	DefaultRequests            = 300
	DefaultWindow              = 60 * time.Second
	DefaultSweepInterval       = 300 * time.Second
	DefaultRetentionMultiplier = 2
	DefaultThrottleBurst       = 20
	DefaultThrottleInterval    = time.Second
	DefaultAIModel             = "gpt-3.5-turbo"
	DefaultAIDelay             = time.Second
	DefaultAITimeout           = 30 * time.Second
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultGitHubAPIURL        = "https://api.github.com"
	DefaultGitHubTimeout       = 10 * time.Second
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// RateLimitConfig defines the sliding window admission control for HTTP
// requests.
type RateLimitConfig struct {
	// Requests is the number of requests admitted per window and client.
	// Zero selects the environment default.
	Requests int `yaml:"requests"`

	// Window is the length of the sliding window.
	Window time.Duration `yaml:"window"`

	// SweepInterval is how often idle clients are reclaimed.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RetentionMultiplier is how many windows of history a sweep keeps.
	RetentionMultiplier int `yaml:"retention_multiplier"`
}

// ThrottleConfig defines the per-connection token bucket for inbound frames.
type ThrottleConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// AIConfig configures the placeholder AI responder.
type AIConfig struct {
	DefaultModel string        `yaml:"default_model"`
	Delay        time.Duration `yaml:"delay"`
	Timeout      time.Duration `yaml:"timeout"`
}

// GitHubConfig configures the GitHub REST client. An empty token leaves the
// integration unconfigured.
type GitHubConfig struct {
	Token   string        `yaml:"token"`
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds the server configuration settings.
type Config struct {
	Environment     string          `yaml:"environment"`
	Port            string          `yaml:"port"`
	LogLevel        string          `yaml:"log_level"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Throttle        ThrottleConfig  `yaml:"message_throttle"`
	AI              AIConfig        `yaml:"ai"`
	GitHub          GitHubConfig    `yaml:"github"`
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Default returns a Config populated with default values for every setting.
func Default() *Config {
	cfg := defaults()
	sanitize(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Port:        DefaultPort,
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:5173",
			"http://localhost:8080",
		},
		MaxMessageSize:  DefaultMaxMessageSize,
		ShutdownTimeout: DefaultShutdownTimeout,
		RateLimit: RateLimitConfig{
			Window:              DefaultWindow,
			SweepInterval:       DefaultSweepInterval,
			RetentionMultiplier: DefaultRetentionMultiplier,
		},
		Throttle: ThrottleConfig{
			Burst:          DefaultThrottleBurst,
			RefillInterval: DefaultThrottleInterval,
		},
		AI: AIConfig{
			DefaultModel: DefaultAIModel,
			Delay:        DefaultAIDelay,
			Timeout:      DefaultAITimeout,
		},
		GitHub: GitHubConfig{
			APIURL:  DefaultGitHubAPIURL,
			Timeout: DefaultGitHubTimeout,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the process environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnv(cfg)
	sanitize(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Unparseable values are
// ignored and the previous value is kept.
func applyEnv(cfg *Config) {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = strings.ToLower(strings.TrimSpace(env))
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if frontend := strings.TrimSpace(os.Getenv("FRONTEND_URL")); frontend != "" {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, frontend)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		cfg.RateLimit.Requests = parseIntValue(v, cfg.RateLimit.Requests)
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		cfg.RateLimit.Window = parseDuration(v, cfg.RateLimit.Window)
	}
	if v := os.Getenv("RATE_LIMIT_SWEEP_INTERVAL"); v != "" {
		cfg.RateLimit.SweepInterval = parseDuration(v, cfg.RateLimit.SweepInterval)
	}

	if v := os.Getenv("MESSAGE_THROTTLE_BURST"); v != "" {
		cfg.Throttle.Burst = parseIntValue(v, cfg.Throttle.Burst)
	}
	if v := os.Getenv("MESSAGE_THROTTLE_INTERVAL"); v != "" {
		cfg.Throttle.RefillInterval = parseDuration(v, cfg.Throttle.RefillInterval)
	}

	if v := os.Getenv("AI_DELAY"); v != "" {
		cfg.AI.Delay = parseDuration(v, cfg.AI.Delay)
	}
	if v := os.Getenv("AI_TIMEOUT"); v != "" {
		cfg.AI.Timeout = parseDuration(v, cfg.AI.Timeout)
	}

	if v := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); v != "" {
		cfg.GitHub.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("GITHUB_API_URL")); v != "" {
		cfg.GitHub.APIURL = v
	}
}

// sanitize replaces zero or negative values with defaults.
func sanitize(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}

	cfg.Port = normalizePort(cfg.Port)

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = DefaultRequests
		if cfg.IsProduction() {
			cfg.RateLimit.Requests = DefaultProductionRequests
		}
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = DefaultWindow
	}
	if cfg.RateLimit.SweepInterval <= 0 {
		cfg.RateLimit.SweepInterval = DefaultSweepInterval
	}
	if cfg.RateLimit.RetentionMultiplier <= 0 {
		cfg.RateLimit.RetentionMultiplier = DefaultRetentionMultiplier
	}

	if cfg.Throttle.Burst <= 0 {
		cfg.Throttle.Burst = DefaultThrottleBurst
	}
	if cfg.Throttle.RefillInterval <= 0 {
		cfg.Throttle.RefillInterval = DefaultThrottleInterval
	}

	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = DefaultAIModel
	}
	if cfg.AI.Delay < 0 {
		cfg.AI.Delay = 0
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = DefaultAITimeout
	}

	cfg.GitHub.Token = strings.TrimSpace(cfg.GitHub.Token)
	cfg.GitHub.APIURL = strings.TrimRight(strings.TrimSpace(cfg.GitHub.APIURL), "/")
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = DefaultGitHubAPIURL
	}
	if cfg.GitHub.Timeout <= 0 {
		cfg.GitHub.Timeout = DefaultGitHubTimeout
	}

	cfg.AllowedOrigins = dedupe(cfg.AllowedOrigins)
}

// validate checks structural constraints on the sanitized configuration.
func validate(cfg *Config) error {
	_, port, ok := strings.Cut(cfg.Port, ":")
	if !ok || port == "" {
		return fmt.Errorf("%w: port %q must be [host]:port", ErrInvalid, cfg.Port)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: port %q is out of range [0, 65535]", ErrInvalid, cfg.Port)
	}

	if cfg.RateLimit.SweepInterval < cfg.RateLimit.Window {
		return fmt.Errorf("%w: rate_limit.sweep_interval %s is shorter than the window %s",
			ErrInvalid, cfg.RateLimit.SweepInterval, cfg.RateLimit.Window)
	}
	if cfg.AI.Timeout < cfg.AI.Delay {
		return fmt.Errorf("%w: ai.timeout %s is shorter than ai.delay %s", ErrInvalid, cfg.AI.Timeout, cfg.AI.Delay)
	}
	if u, err := url.Parse(cfg.GitHub.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: github.api_url %q must be an absolute http(s) URL", ErrInvalid, cfg.GitHub.APIURL)
	}
	return nil
}

func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return DefaultPort
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts either a Go duration ("90s", "5m") or a whole number
// of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	return defaultValue
}
