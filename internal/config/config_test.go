package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ENVIRONMENT", "SERVER_PORT", "PORT", "LOG_LEVEL", "ALLOWED_ORIGINS", "FRONTEND_URL",
		"MAX_MESSAGE_SIZE", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "RATE_LIMIT_SWEEP_INTERVAL",
		"MESSAGE_THROTTLE_BURST", "MESSAGE_THROTTLE_INTERVAL", "AI_DELAY", "AI_TIMEOUT",
		"GITHUB_TOKEN", "GITHUB_API_URL",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, DefaultRequests, cfg.RateLimit.Requests)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 300*time.Second, cfg.RateLimit.SweepInterval)
	assert.Equal(t, 2, cfg.RateLimit.RetentionMultiplier)
	assert.Equal(t, DefaultAIModel, cfg.AI.DefaultModel)
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:5173")
	assert.Empty(t, cfg.GitHub.Token)
	assert.Equal(t, DefaultGitHubAPIURL, cfg.GitHub.APIURL)
	assert.Equal(t, DefaultGitHubTimeout, cfg.GitHub.Timeout)
}

func TestLoad_ProductionDefaultLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "Production")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, DefaultProductionRequests, cfg.RateLimit.Requests)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("FRONTEND_URL", "http://app.example")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "30")
	t.Setenv("RATE_LIMIT_SWEEP_INTERVAL", "10m")
	t.Setenv("MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("AI_DELAY", "0")
	t.Setenv("GITHUB_TOKEN", " ghp_secret ")
	t.Setenv("GITHUB_API_URL", "https://ghe.example/api/v3/")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example", "http://app.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.SweepInterval)
	assert.Equal(t, int64(DefaultMaxMessageSize), cfg.MaxMessageSize, "invalid values keep the default")
	assert.Equal(t, time.Duration(0), cfg.AI.Delay)
	assert.Equal(t, "ghp_secret", cfg.GitHub.Token)
	assert.Equal(t, "https://ghe.example/api/v3", cfg.GitHub.APIURL)
}

func TestLoad_ServerPortWinsOverPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "127.0.0.1:7000")
	t.Setenv("PORT", "9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Port)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
environment: production
port: ":9100"
rate_limit:
  requests: 42
  window: 2m
  sweep_interval: 10m
message_throttle:
  burst: 3
ai:
  delay: 250ms
`)
	t.Setenv("RATE_LIMIT_REQUESTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9100", cfg.Port)
	assert.Equal(t, 7, cfg.RateLimit.Requests, "environment overrides the file")
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 3, cfg.Throttle.Burst)
	assert.Equal(t, DefaultThrottleInterval, cfg.Throttle.RefillInterval, "unset keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.AI.Delay)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "bad yaml", content: "rate_limit: [unclosed"},
		{name: "sweep shorter than window", content: "rate_limit:\n  window: 10m\n  sweep_interval: 1m\n", wantErr: ErrInvalid},
		{name: "port out of range", content: "port: \":70000\"\n", wantErr: ErrInvalid},
		{name: "timeout shorter than delay", content: "ai:\n  delay: 5s\n  timeout: 1s\n", wantErr: ErrInvalid},
		{name: "relative github url", content: "github:\n  api_url: api.github.com\n", wantErr: ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeFile(t, tt.content))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 45*time.Second, parseDuration("45", time.Minute))
	assert.Equal(t, 1500*time.Millisecond, parseDuration("1.5s", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("-3", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "rate_limit:\n  requests: 10\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logger, func(c *Config) { reloaded <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  requests: 25\n"), 0o600))

	// A truncating write can surface as several events; wait for the final content.
	deadline := time.After(3 * time.Second)
	for seen := false; !seen; {
		select {
		case cfg := <-reloaded:
			seen = cfg.RateLimit.Requests == 25
		case <-deadline:
			t.Fatal("no reload with the new limit observed")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
