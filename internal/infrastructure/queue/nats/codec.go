package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

func encodeEvent(subject string, event domain.Event) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if event.ID != "" {
		msg.Header.Set(msgIDHeader, event.ID)
	}
	return msg, nil
}

func decodeEvent(msg *nats.Msg) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return domain.Event{}, domain.WrapError(domain.ErrInvalidInput, "decode event", err)
	}
	if event.Identifier == "" {
		return domain.Event{}, domain.WrapError(domain.ErrInvalidInput, "decode event", fmt.Errorf("event %q has no identifier", event.ID))
	}
	return event, nil
}
