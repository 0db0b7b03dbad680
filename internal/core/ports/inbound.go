package ports

import (
	"context"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

// EventProcessor is the inbound contract of the conversation state machine.
// It never returns an error: failures are reported inside the result.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event domain.Event) domain.EventResult
}

// EventDispatcher hands a decoded webhook event to whoever processes it.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event domain.Event) error
}

// PipelineRunner runs one extraction attempt to a terminal outcome.
type PipelineRunner interface {
	Run(ctx context.Context, identifier string, image domain.ImageRef) domain.PipelineOutcome
}

// RecordReader is the read model used by admin endpoints and tools.
type RecordReader interface {
	ListRecords(ctx context.Context, ownerIdentifier string, limit int) ([]domain.Record, error)
	GetRecord(ctx context.Context, recordID string) (*domain.Record, error)
}

// UserReader exposes the current conversation state.
type UserReader interface {
	GetUser(ctx context.Context, identifier string) (*domain.User, error)
}
