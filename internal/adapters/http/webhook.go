package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/messaging/whatsapp"
)

const unsupportedNoticeTimeout = 10 * time.Second

// verifyWebhook answers the Meta subscription handshake.
func (rt *Router) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if rt.cfg.VerifyToken == "" ||
		q.Get("hub.mode") != "subscribe" ||
		q.Get("hub.verify_token") != rt.cfg.VerifyToken {
		rt.logger.Warn("webhook_verification_rejected", "mode", q.Get("hub.mode"))
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "verification failed"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (rt *Router) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		rt.recordMessage("rejected")
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return
	}

	if rt.cfg.AppSecret != "" {
		if err := whatsapp.VerifySignature(rt.cfg.AppSecret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
			rt.logger.Warn("webhook_signature_rejected",
				"request_id", requestIDFromContext(r.Context()),
				"error", err,
			)
			rt.recordMessage("rejected")
			writeError(w, err)
			return
		}
	}

	batch, err := whatsapp.ParseWebhook(body)
	if err != nil {
		rt.recordMessage("rejected")
		if errors.Is(err, whatsapp.ErrNotBusinessAccount) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeError(w, err)
		return
	}

	for _, event := range batch.Events {
		if err := rt.dispatcher.Dispatch(r.Context(), event); err != nil {
			rt.logger.Error("webhook_dispatch_failed",
				"event_id", event.ID,
				"identifier", event.Identifier,
				"error", err,
			)
			if rt.metrics != nil {
				rt.metrics.RecordDispatchError(serviceName)
			}
			continue
		}
		rt.recordMessage("dispatched")
	}

	for _, skipped := range batch.Skipped {
		rt.logger.Warn("webhook_message_skipped",
			"event_id", skipped.ID,
			"identifier", skipped.From,
			"reason", skipped.Reason,
		)
		rt.recordMessage("skipped")
	}

	for _, msg := range batch.Unsupported {
		rt.notifyUnsupported(r.Context(), msg)
		rt.recordMessage("unsupported")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// notifyUnsupported tells the sender only text and images are understood
// and marks the message read. Both calls are best effort.
func (rt *Router) notifyUnsupported(ctx context.Context, msg whatsapp.Unsupported) {
	if rt.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsupportedNoticeTimeout)
	defer cancel()

	if err := rt.notifier.SendText(ctx, msg.From, rt.replies.Unsupported); err != nil {
		rt.logger.Warn("unsupported_notice_failed",
			"identifier", msg.From,
			"type", msg.Type,
			"error", domain.WrapError(domain.ErrNotifier, "send unsupported notice", err),
		)
	}
	if msg.ID == "" {
		return
	}
	if err := rt.notifier.Acknowledge(ctx, msg.ID); err != nil {
		rt.logger.Warn("unsupported_ack_failed", "event_id", msg.ID, "error", err)
	}
}

func (rt *Router) recordMessage(outcome string) {
	if rt.metrics != nil {
		rt.metrics.RecordWebhookMessage(serviceName, outcome)
	}
}
