package domain

import "time"

type State string

const (
	StateWelcome       State = "WELCOME"
	StateAwaitingInput State = "AWAITING_INPUT"
	StateProcessing    State = "PROCESSING"
	StateSucceeded     State = "SUCCEEDED"
	StateFailed        State = "FAILED"
)

// Valid reports whether s is one of the five conversation states.
func (s State) Valid() bool {
	switch s {
	case StateWelcome, StateAwaitingInput, StateProcessing, StateSucceeded, StateFailed:
		return true
	default:
		return false
	}
}

// User is one conversation participant keyed by a stable identifier (phone number).
type User struct {
	Identifier string    `json:"identifier"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type EventKind string

const (
	EventText  EventKind = "text"
	EventImage EventKind = "image"
)

// ImageRef carries enough to fetch the raw media bytes later.
type ImageRef struct {
	MediaID     string `json:"media_id"`
	MimeType    string `json:"mime_type,omitempty"`
	DeliveryURL string `json:"delivery_url,omitempty"`
}

// SourceRef is the opaque reference persisted on a record.
func (r ImageRef) SourceRef() string {
	if r.DeliveryURL != "" {
		return r.DeliveryURL
	}
	return "media:" + r.MediaID
}

type Event struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Kind       EventKind `json:"kind"`
	Body       string    `json:"body,omitempty"`
	Image      *ImageRef `json:"image,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Media is a downloaded inbound attachment.
type Media struct {
	Data     []byte
	MimeType string
	URL      string
}

// EventResult describes what ProcessEvent did with one inbound event.
type EventResult struct {
	EventID    string
	Identifier string
	Kind       EventKind

	// From is the state observed when the event was loaded; To is the state
	// left behind once processing finished.
	From        State
	To          State
	Transitions int

	Pipeline *PipelineOutcome
	Busy     bool

	RepliesSent   int
	RepliesFailed int

	Err        error
	Apologized bool
}

func (r EventResult) Failed() bool {
	return r.Err != nil
}
