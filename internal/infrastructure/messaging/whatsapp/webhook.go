package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

const businessAccountObject = "whatsapp_business_account"

// ErrNotBusinessAccount marks payloads that are not WhatsApp Business
// notifications at all.
var ErrNotBusinessAccount = errors.New("webhook object is not a whatsapp business account")

// Unsupported is an inbound message of a type the conversation cannot handle.
type Unsupported struct {
	ID   string
	From string
	Type string
}

// Skipped is a supported message that could not be turned into an event.
type Skipped struct {
	ID     string
	From   string
	Reason string
}

type Batch struct {
	Events      []domain.Event
	Unsupported []Unsupported
	Skipped     []Skipped
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *mediaObject `json:"image"`
	Document *mediaObject `json:"document"`
}

type mediaObject struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

// ParseWebhook decodes a notification into conversation events. Status
// updates and non-message changes are ignored.
func ParseWebhook(body []byte) (Batch, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Batch{}, domain.WrapError(domain.ErrInvalidInput, "parse webhook", err)
	}
	if payload.Object != businessAccountObject {
		return Batch{}, ErrNotBusinessAccount
	}

	var batch Batch
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				batch.add(msg)
			}
		}
	}
	return batch, nil
}

func (b *Batch) add(msg inboundMessage) {
	base := domain.Event{
		ID:         msg.ID,
		Identifier: msg.From,
		ReceivedAt: parseTimestamp(msg.Timestamp),
	}

	switch msg.Type {
	case "text":
		base.Kind = domain.EventText
		if msg.Text != nil {
			base.Body = msg.Text.Body
		}
		b.Events = append(b.Events, base)
	case "image":
		if msg.Image == nil || strings.TrimSpace(msg.Image.ID) == "" {
			b.Skipped = append(b.Skipped, Skipped{ID: msg.ID, From: msg.From, Reason: "image without media id"})
			return
		}
		base.Kind = domain.EventImage
		base.Body = msg.Image.Caption
		base.Image = &domain.ImageRef{MediaID: msg.Image.ID, MimeType: msg.Image.MimeType}
		b.Events = append(b.Events, base)
	case "document":
		if msg.Document == nil || !receiptDocument(msg.Document.MimeType) {
			b.Unsupported = append(b.Unsupported, Unsupported{ID: msg.ID, From: msg.From, Type: msg.Type})
			return
		}
		if strings.TrimSpace(msg.Document.ID) == "" {
			b.Skipped = append(b.Skipped, Skipped{ID: msg.ID, From: msg.From, Reason: "document without media id"})
			return
		}
		base.Kind = domain.EventImage
		base.Body = msg.Document.Caption
		base.Image = &domain.ImageRef{MediaID: msg.Document.ID, MimeType: msg.Document.MimeType}
		b.Events = append(b.Events, base)
	default:
		b.Unsupported = append(b.Unsupported, Unsupported{ID: msg.ID, From: msg.From, Type: msg.Type})
	}
}

func receiptDocument(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	return mt == "application/pdf" || strings.HasPrefix(mt, "image/")
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw body.
func VerifySignature(appSecret string, body []byte, header string) error {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return domain.WrapError(domain.ErrUnauthorized, "verify signature", errors.New("missing sha256 signature"))
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return domain.WrapError(domain.ErrUnauthorized, "verify signature", fmt.Errorf("decode signature: %w", err))
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	_, _ = mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.WrapError(domain.ErrUnauthorized, "verify signature", errors.New("signature mismatch"))
	}
	return nil
}

// Sign returns the header value Meta would send for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
