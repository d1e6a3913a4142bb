package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/monedita/pkg/api"
	"github.com/platinummonkey/monedita/pkg/app"
	"github.com/platinummonkey/monedita/pkg/assistant"
	"github.com/platinummonkey/monedita/pkg/async"
	"github.com/platinummonkey/monedita/pkg/config"
	"github.com/platinummonkey/monedita/pkg/conversation"
	"github.com/platinummonkey/monedita/pkg/llm"
	"github.com/platinummonkey/monedita/pkg/middleware"
	"github.com/platinummonkey/monedita/pkg/observability"
)

const offlineReply = "Monedita is taking a short break. Please try again in a few minutes."

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("version", cfg.Observability.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var responder assistant.Responder = assistant.StaticResponder(offlineReply)
	client, err := llm.NewClient(llm.ClientConfig{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
	})
	switch {
	case errors.Is(err, llm.ErrNoAPIKey):
		logger.Warn("no language model configured; replying with a static message")
	case err != nil:
		a.Close()
		return err
	default:
		responder = client
	}

	dispatcherOpts := []assistant.DispatcherOption{
		assistant.WithLogger(logger.WithField("component", "dispatcher")),
		assistant.WithMaxContextTokens(cfg.LLM.MaxContextTokens),
		assistant.WithBudgets(a.Budgets),
	}
	if a.Reminders != nil {
		dispatcherOpts = append(dispatcherOpts, assistant.WithReminders(a.Reminders))
	}
	if a.Metrics != nil {
		dispatcherOpts = append(dispatcherOpts, assistant.WithRecorder(a.Metrics))
	}
	dispatcher := assistant.NewDispatcher(a.Billing, responder, a.Messenger,
		conversation.NewStore(conversation.DefaultConfig()), dispatcherOpts...)

	runner := async.NewRunner(logger, cfg.Server.EventTimeout)

	rateConfig := middleware.DefaultRateLimitConfig()
	rateConfig.RequestsPerWindow = cfg.Server.RateLimitPerMinute
	var limiter middleware.Limiter
	if a.Redis != nil {
		limiter = middleware.NewDistributedRateLimiter(a.Redis, rateConfig, "monedita:ratelimit")
	} else {
		local := middleware.NewRateLimiter(rateConfig)
		local.StartCleanup(ctx)
		limiter = local
	}

	deps := api.Dependencies{
		Events:      dispatcher,
		Runner:      runner,
		Billing:     a.Billing,
		Sources:     a.Payments,
		Sweeps:      a.Scheduler,
		Health: observability.NewHealthChecker(cfg.Observability.Version,
			observability.Dependency{Name: "store", Critical: true, Pinger: a.Store},
			// usage reads fall back to the store without Redis
			observability.Dependency{Name: "redis", Pinger: observability.RedisPinger(a.Redis)},
		),
		Metrics:     a.Metrics,
		RateLimiter: limiter,
		Logger:      logger,
	}
	if a.Registry != nil {
		deps.Gatherer = a.Registry
	}
	server := api.NewServer(deps, api.Options{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		AppSecret:   cfg.WhatsApp.AppSecret,
		AdminToken:  cfg.Admin.Token,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			a.Close()
			return err
		}
		logger.Info("billing scheduler started")
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	// Registered in start order; they run in reverse.
	shutdown.Register("store", func(context.Context) error { return a.Close() })
	shutdown.Register("scheduler", func(context.Context) error {
		a.Scheduler.Stop(cfg.Server.ShutdownTimeout)
		return nil
	})
	shutdown.Register("event runner", runner.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("starting monedita server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = shutdown.Shutdown()
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return shutdown.Shutdown()
}
