package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

func TestEventCodecRoundTripKeepsImageRef(t *testing.T) {
	in := domain.Event{
		ID:         "wamid.2",
		Identifier: "5215550001",
		Kind:       domain.EventImage,
		Image:      &domain.ImageRef{MediaID: "media-1", MimeType: "image/jpeg"},
		ReceivedAt: time.Unix(1768700000, 0).UTC(),
	}
	msg, err := encodeEvent("tickets.events", in)
	if err != nil {
		t.Fatalf("encodeEvent() error = %v", err)
	}
	if msg.Header.Get(msgIDHeader) != "wamid.2" {
		t.Fatalf("expected dedupe header, got %q", msg.Header.Get(msgIDHeader))
	}

	out, err := decodeEvent(msg)
	if err != nil {
		t.Fatalf("decodeEvent() error = %v", err)
	}
	if out.Image == nil || out.Image.MediaID != "media-1" || !out.ReceivedAt.Equal(in.ReceivedAt) {
		t.Fatalf("unexpected decoded event %+v", out)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	for _, data := range []string{"not-json", `{"id":"x","kind":"text"}`} {
		_, err := decodeEvent(&nats.Msg{Data: []byte(data)})
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%q: expected invalid input, got %v", data, err)
		}
	}
}

func TestClassifyPublishError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
		recorded  bool
	}{
		{fmt.Errorf("publish: %w", nats.ErrConnectionClosed), true, true},
		{nats.ErrConnectionReconnecting, true, true},
		{context.Canceled, false, false},
		{fmt.Errorf("publish: %w", nats.ErrMaxPayload), false, false},
		{errors.New("unexpected"), false, true},
	}
	for _, tc := range cases {
		class := classifyPublishError(tc.err)
		if class.Retryable != tc.retryable || class.RecordFailure != tc.recorded {
			t.Fatalf("%v: got %+v", tc.err, class)
		}
	}
}

func TestWrapPublishErrorMapsDomainKinds(t *testing.T) {
	event := domain.Event{ID: "wamid.1"}
	if err := wrapPublishError(event, nats.ErrTimeout); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary wrap, got %v", err)
	}
	err := wrapPublishError(event, fmt.Errorf("nats publish: %w", nats.ErrMaxPayload))
	if !domain.IsKind(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), "wamid.1") {
		t.Fatalf("expected invalid input naming the event, got %v", err)
	}
	plain := errors.New("bad subject")
	if err := wrapPublishError(event, plain); err != plain {
		t.Fatalf("expected permanent error unchanged, got %v", err)
	}
}
