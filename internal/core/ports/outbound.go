package ports

import (
	"context"
	"io"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

// UserRepository persists conversation state per identifier.
type UserRepository interface {
	GetUser(ctx context.Context, identifier string) (*domain.User, error)
	CreateUser(ctx context.Context, identifier string, initial domain.State) (*domain.User, error)
	// SetState is a compare-and-set: it fails with domain.ErrStateMismatch
	// when the stored state is not expected.
	SetState(ctx context.Context, identifier string, expected, next domain.State) (*domain.User, error)
}

// RecordRepository persists extraction attempts.
type RecordRepository interface {
	CreateRecord(ctx context.Context, ownerIdentifier, sourceRef string) (*domain.Record, error)
	SetRecordOutcome(ctx context.Context, recordID string, outcome domain.RecordOutcome) (*domain.Record, error)
	ListRecords(ctx context.Context, ownerIdentifier string, limit int) ([]domain.Record, error)
	GetRecord(ctx context.Context, recordID string) (*domain.Record, error)
}

// Notifier delivers replies to the messaging platform.
type Notifier interface {
	SendText(ctx context.Context, identifier, text string) error
	Acknowledge(ctx context.Context, eventID string) error
}

// MediaFetcher downloads inbound attachments.
type MediaFetcher interface {
	FetchImage(ctx context.Context, ref domain.ImageRef) (*domain.Media, error)
}

// Recognizer turns image bytes into raw text.
type Recognizer interface {
	Recognize(ctx context.Context, media *domain.Media) (string, error)
}

// Normalizer classifies raw text as a receipt and extracts its fields.
type Normalizer interface {
	Normalize(ctx context.Context, rawText string) (domain.Normalization, error)
}

// ObjectStorage archives source images.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// EventQueue moves inbound events from the webhook to the worker.
type EventQueue interface {
	PublishEvent(ctx context.Context, event domain.Event) error
	SubscribeEvents(ctx context.Context, handler func(context.Context, domain.Event) error) error
}
