package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tyrowin/foundryhub/internal/config"
	"github.com/Tyrowin/foundryhub/internal/logging"
	"github.com/Tyrowin/foundryhub/internal/metrics"
	"github.com/Tyrowin/foundryhub/internal/ratelimit"
	"github.com/Tyrowin/foundryhub/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "foundryhub: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var limiter *ratelimit.Limiter
	m := metrics.New(reg, func() int { return limiter.Clients() })
	limiter = server.NewLimiter(cfg, logger, m)

	srv := server.New(cfg, server.Deps{
		Logger:  logger,
		Metrics: m,
		Limiter: limiter,
	})

	go limiter.Run(ctx)

	if cfgPath != "" {
		go func() {
			if err := config.Watch(ctx, cfgPath, logger, srv.ApplyConfig); err != nil {
				logger.Error("config: watch stopped", "path", cfgPath, "err", err)
			}
		}()
	}

	httpServer := server.CreateServer(cfg.Port, srv.Handler())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: listening",
			"addr", httpServer.Addr,
			"environment", cfg.Environment,
			"rate_limit", cfg.RateLimit.Requests,
			"rate_window", cfg.RateLimit.Window)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("server: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	httpErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)

	hubCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	hubErr := srv.Shutdown(hubCtx)

	return errors.Join(httpErr, hubErr)
}
