package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/ticket-assistant/internal/config"
	"github.com/kirillkom/ticket-assistant/internal/core/usecase"
	"github.com/kirillkom/ticket-assistant/internal/i18n"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/messaging/whatsapp"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/ticket-assistant/internal/observability/metrics"
)

// Options selects which parts of the graph a binary needs.
type Options struct {
	Service string
	Logger  *slog.Logger

	// Conversation builds the state machine and its extraction pipeline.
	Conversation bool
	// Queue connects to NATS.
	Queue bool
	// Registry receives the conversation and breaker metrics; nil creates
	// a private one.
	Registry *prometheus.Registry
}

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Replies i18n.Catalogue

	Users    *postgres.UserRepository
	Records  *postgres.RecordRepository
	Notifier *whatsapp.Client
	Queue    *nats.Queue

	Conversation *usecase.StateMachine
	Metrics      *metrics.ConversationMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	replies, err := i18n.LoadFile(cfg.RepliesFile, cfg.ReplyLocale)
	if err != nil {
		return nil, fmt.Errorf("load replies: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	convMetrics := metrics.NewConversationMetrics(opts.Service, opts.Registry)
	newExecutor := func(profile resilience.Profile) *resilience.Executor {
		return resilience.NewExecutor(cfg.Resilience.For(profile),
			resilience.WithLogger(logger.With("downstream", string(profile))),
			resilience.WithStateListener(convMetrics.BreakerStateChanged),
		)
	}

	notifier := whatsapp.New(whatsapp.Config{
		APIURL:        cfg.WhatsAppAPIURL,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		AccessToken:   cfg.WhatsAppAccessToken,
		MaxMediaBytes: cfg.WhatsAppMaxMediaBytes,
		Executor:      newExecutor(resilience.ProfileMessaging),
	})

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Replies:  replies,
		Users:    postgres.NewUserRepository(db),
		Records:  postgres.NewRecordRepository(db),
		Notifier: notifier,
		Metrics:  convMetrics,
	}

	if opts.Queue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: newExecutor(resilience.ProfileQueue),
			Logger:             logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init event queue: %w", err)
		}
		app.Queue = queue
	}

	if opts.Conversation {
		if err := app.buildConversation(newExecutor(resilience.ProfileModel)); err != nil {
			app.close(db)
			return nil, err
		}
	}

	app.closeFn = func() { app.close(db) }
	return app, nil
}

func (a *App) buildConversation(executor *resilience.Executor) error {
	cfg := a.Config

	archive, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("init receipt archive: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaTextModel, cfg.OllamaVisionModel, ollama.WithExecutor(executor))
	recognizer := pdftext.NewRecognizer(ollama.NewRecognizer(ollamaClient))
	normalizer := ollama.NewNormalizer(ollamaClient)

	pipeline := usecase.NewExtractionPipeline(a.Records, a.Notifier, recognizer, normalizer,
		usecase.WithArchive(archive),
		usecase.WithPipelineTimeouts(usecase.PipelineTimeouts{
			Store:     cfg.StoreTimeout,
			Fetch:     cfg.FetchTimeout,
			Recognize: cfg.RecognizeTimeout,
			Normalize: cfg.NormalizeTimeout,
		}),
		usecase.WithPipelineObserver(a.Metrics),
		usecase.WithPipelineLogger(a.Logger),
	)

	a.Conversation = usecase.NewStateMachine(a.Users, a.Notifier, pipeline, a.Replies,
		usecase.WithOptions(usecase.StateMachineOptions{
			MenuKeyword:   cfg.MenuKeyword,
			StoreTimeout:  cfg.StoreTimeout,
			NotifyTimeout: cfg.NotifyTimeout,
		}),
		usecase.WithObserver(a.Metrics),
		usecase.WithLogger(a.Logger),
	)
	return nil
}

func (a *App) close(db *sql.DB) {
	if a.Queue != nil {
		a.Queue.Close()
	}
	_ = db.Close()
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
