package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/ticket-assistant/internal/core/ports"
	"github.com/kirillkom/ticket-assistant/internal/i18n"
	"github.com/kirillkom/ticket-assistant/internal/observability/metrics"
)

const (
	serviceName        = "api"
	maxWebhookBodySize = 1 << 20
	defaultHistorySize = 20
)

type RouterConfig struct {
	VerifyToken  string
	AppSecret    string
	AdminAPIKey  string
	HistoryLimit int
}

type Router struct {
	cfg        RouterConfig
	dispatcher ports.EventDispatcher
	notifier   ports.Notifier
	records    ports.RecordReader
	users      ports.UserReader
	replies    i18n.Catalogue
	metrics    *metrics.HTTPServerMetrics
	logger     *slog.Logger
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) { rt.metrics = m }
}

func WithLogger(l *slog.Logger) RouterOption {
	return func(rt *Router) {
		if l != nil {
			rt.logger = l
		}
	}
}

func NewRouter(
	cfg RouterConfig,
	dispatcher ports.EventDispatcher,
	notifier ports.Notifier,
	records ports.RecordReader,
	users ports.UserReader,
	replies i18n.Catalogue,
	opts ...RouterOption,
) *Router {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistorySize
	}
	rt := &Router{
		cfg:        cfg,
		dispatcher: dispatcher,
		notifier:   notifier,
		records:    records,
		users:      users,
		replies:    replies,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware(rt.logger))
	if rt.metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.metrics.Middleware(serviceName, next)
		})
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Get("/healthz", rt.healthz)
	r.Get("/api/webhook", rt.verifyWebhook)
	r.Post("/api/webhook", rt.receiveWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(rt.adminAuthMiddleware)
		r.Get("/users/{identifier}", rt.getUser)
		r.Get("/users/{identifier}/records", rt.listRecords)
		r.Get("/users/{identifier}/records/export", rt.exportRecords)
		r.Get("/records/{recordID}", rt.getRecord)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
