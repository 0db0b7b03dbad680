package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/bootstrap"
	"github.com/kirillkom/ticket-assistant/internal/config"
	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, "worker", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:      "worker",
		Logger:       logger,
		Conversation: true,
		Queue:        true,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.SubscribeEvents(ctx, func(handlerCtx context.Context, event domain.Event) error {
		eventCtx, cancel := context.WithTimeout(handlerCtx, cfg.EventTimeout)
		defer cancel()

		res := app.Conversation.ProcessEvent(eventCtx, event)
		if res.Failed() {
			logger.Warn("worker_event_failed", "event_id", res.EventID, "identifier", res.Identifier, "error", res.Err)
		}
		// Failed events were already answered with an apology.
		return nil
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
