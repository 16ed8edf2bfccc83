package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/foundryhub/internal/ai"
	"github.com/Tyrowin/foundryhub/internal/config"
	"github.com/Tyrowin/foundryhub/internal/github"
	"github.com/Tyrowin/foundryhub/internal/hub"
	"github.com/Tyrowin/foundryhub/internal/metrics"
	"github.com/Tyrowin/foundryhub/internal/ratelimit"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

// Deps are the collaborators a Server is built from. Nil fields are
// constructed from the configuration.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Hub       *hub.Hub
	Limiter   *ratelimit.Limiter
	Responder ai.Responder
	System    SystemProbe
	GitHub    GitHubClient
}

// Server owns the HTTP surface: the WebSocket endpoint backed by the hub,
// the REST API, and the admission controller in front of both.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	hub        *hub.Hub
	dispatcher *hub.Dispatcher
	limiter    *ratelimit.Limiter
	responder  ai.Responder
	system     SystemProbe
	github     GitHubClient
	origins    *OriginPolicy
	upgrader   websocket.Upgrader

	clientOpts hub.ClientOptions
	started    time.Time

	// base is the parent context of every WebSocket client. Cancelling it
	// disconnects them all.
	base    context.Context
	cancel  context.CancelFunc
	clients sync.WaitGroup
}

// New assembles a Server from cfg and deps.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := deps.Hub
	if h == nil {
		h = hub.New(logger, deps.Metrics)
	}

	responder := deps.Responder
	if responder == nil {
		responder = ai.NewPlaceholder(cfg.AI.DefaultModel, cfg.AI.Delay)
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewLimiter(cfg, logger, deps.Metrics)
	}

	system := deps.System
	if system == nil {
		system = HostProbe{}
	}

	gh := deps.GitHub
	if gh == nil {
		gh = github.New(cfg.GitHub.APIURL, cfg.GitHub.Token, cfg.GitHub.Timeout)
	}

	origins := NewOriginPolicy(cfg.AllowedOrigins, logger)
	base, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    deps.Metrics,
		hub:        h,
		dispatcher: hub.NewDispatcher(h, responder, cfg.AI.Timeout, logger, deps.Metrics),
		limiter:    limiter,
		responder:  responder,
		system:     system,
		github:     gh,
		origins:    origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		clientOpts: hub.ClientOptions{
			MaxMessageSize:   cfg.MaxMessageSize,
			ThrottleBurst:    cfg.Throttle.Burst,
			ThrottleInterval: cfg.Throttle.RefillInterval,
		},
		started: time.Now(),
		base:    base,
		cancel:  cancel,
	}
}

// NewLimiter builds the HTTP admission controller described by cfg.
func NewLimiter(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window,
		ratelimit.WithSweepInterval(cfg.RateLimit.SweepInterval),
		ratelimit.WithRetentionMultiplier(cfg.RateLimit.RetentionMultiplier),
		ratelimit.WithExemptPaths(exemptPaths...),
		ratelimit.WithUpgradePaths(upgradePaths...),
		ratelimit.WithDenyHook(m.RateLimited),
		ratelimit.WithLogger(logger),
	)
}

// Hub returns the connection hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Limiter returns the HTTP admission controller.
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// ApplyConfig applies the settings that can change without a restart: the
// request limit and the origin allowlist.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.limiter.SetLimit(cfg.RateLimit.Requests)
	s.origins.Update(cfg.AllowedOrigins)
	s.logger.Info("server: configuration applied",
		"rate_limit", cfg.RateLimit.Requests,
		"allowed_origins", len(cfg.AllowedOrigins))
}

// Shutdown disconnects every WebSocket client and waits for their pumps and
// any pending AI requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down hub")
	s.cancel()
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.clients.Wait()
		s.dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server: hub shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("server: hub shutdown timed out", "err", ctx.Err())
		return ctx.Err()
	}
}

func (s *Server) serveClient(conn *websocket.Conn, addr string) {
	client := hub.NewClient(conn, s.hub, s.dispatcher, addr, s.clientOpts, s.logger)

	s.clients.Add(1)
	go func() {
		defer s.clients.Done()
		client.Run(s.base)
	}()
}
