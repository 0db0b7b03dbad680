package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/resilience"
)

// connectionErrors clear up once the client reconnects.
var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrDisconnected,
	nats.ErrReconnectBufExceeded,
	nats.ErrStaleConnection,
}

// eventErrors belong to the published event itself; the same event fails again.
var eventErrors = []error{
	nats.ErrMaxPayload,
	nats.ErrBadSubject,
	nats.ErrInvalidMsg,
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case domain.IsKind(err, domain.ErrInvalidInput), matchesAny(err, eventErrors):
		return resilience.ErrorClassification{}
	case matchesAny(err, connectionErrors):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// wrapPublishError maps a failed publish of event onto the domain kinds the
// webhook handler reports: a broker outage is temporary, an oversized or
// malformed event is invalid input.
func wrapPublishError(event domain.Event, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrInvalidInput) {
		return err
	}
	op := "publish event " + event.ID
	if matchesAny(err, eventErrors) {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	if classifyPublishError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return err
}
