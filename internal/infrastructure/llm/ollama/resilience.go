package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/resilience"
)

// ErrModelNotFound marks a request for a model the Ollama server has not
// pulled. Retrying cannot help until the deployment is fixed.
var ErrModelNotFound = errors.New("ollama model not found")

// StatusError is a non-2xx answer of the Ollama API for one model call.
type StatusError struct {
	Operation  string
	Model      string
	StatusCode int
	// Message is the "error" field of the JSON body, or the raw body text.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama %s with %s: HTTP %d", e.Operation, e.Model, e.StatusCode)
	}
	return fmt.Sprintf("ollama %s with %s: HTTP %d: %s", e.Operation, e.Model, e.StatusCode, e.Message)
}

// ModelMissing reports the 404 Ollama returns for an unknown model name.
func (e *StatusError) ModelMissing() bool {
	return e.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(e.Message), "not found")
}

func newStatusError(operation, model string, statusCode int, body []byte) *StatusError {
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	return &StatusError{Operation: operation, Model: model, StatusCode: statusCode, Message: message}
}

var (
	transientFailure = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	brokenDownstream = resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	rejectedRequest  = resilience.ErrorClassification{}
)

// classifyModelError decides retries and breaker accounting for a model call.
// A missing model trips the breaker so later receipts fail fast.
func classifyModelError(err error) resilience.ErrorClassification {
	if err == nil {
		return rejectedRequest
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rejectedRequest
	}
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return rejectedRequest
	}
	if resilience.IsCircuitOpen(err) {
		return transientFailure
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.ModelMissing():
			return brokenDownstream
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500 && statusErr.StatusCode != http.StatusNotImplemented:
			return transientFailure
		default:
			return rejectedRequest
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return transientFailure
	}
	return brokenDownstream
}

// wrapModelError tags a missing model with ErrModelNotFound and a retryable
// failure with domain.ErrTemporary.
func wrapModelError(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.ModelMissing() {
		return fmt.Errorf("%w: %w", ErrModelNotFound, err)
	}
	if classifyModelError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
