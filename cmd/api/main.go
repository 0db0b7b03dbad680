package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/ticket-assistant/internal/adapters/http"
	"github.com/kirillkom/ticket-assistant/internal/bootstrap"
	"github.com/kirillkom/ticket-assistant/internal/config"
	"github.com/kirillkom/ticket-assistant/internal/core/ports"
	"github.com/kirillkom/ticket-assistant/internal/core/usecase"
	"github.com/kirillkom/ticket-assistant/internal/observability/logging"
	"github.com/kirillkom/ticket-assistant/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, "api", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	inline := cfg.DispatchMode == config.DispatchInline

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:      "api",
		Logger:       logger,
		Conversation: inline,
		Queue:        !inline,
		Registry:     httpMetrics.Registry(),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	var dispatcher ports.EventDispatcher = app.Queue
	var inlineDispatcher *usecase.InlineDispatcher
	if inline {
		inlineDispatcher = usecase.NewInlineDispatcher(app.Conversation, cfg.EventTimeout, logger)
		dispatcher = inlineDispatcher
	}

	router := httpadapter.NewRouter(
		httpadapter.RouterConfig{
			VerifyToken:  cfg.WhatsAppVerifyToken,
			AppSecret:    cfg.WhatsAppAppSecret,
			AdminAPIKey:  cfg.AdminAPIKey,
			HistoryLimit: cfg.RecordHistoryLimit,
		},
		dispatcher,
		app.Notifier,
		app.Records,
		app.Users,
		app.Replies,
		httpadapter.WithMetrics(httpMetrics),
		httpadapter.WithLogger(logger),
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "dispatch_mode", cfg.DispatchMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
	if inlineDispatcher != nil {
		if err := inlineDispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("inline_events_abandoned", "error", err)
		}
	}
}
