package httpadapter

import (
	"net/http"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

// errorClass maps a domain kind onto a response. Only exposed classes echo
// the wrapped message; the rest answer with the kind's text.
type errorClass struct {
	kind    error
	status  int
	code    string
	exposed bool
}

// errorClasses is checked in order; the first matching kind wins.
var errorClasses = []errorClass{
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input", true},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", false},
	{domain.ErrUserNotFound, http.StatusNotFound, "user_not_found", true},
	{domain.ErrRecordNotFound, http.StatusNotFound, "record_not_found", true},
	{domain.ErrConflict, http.StatusConflict, "conflict", true},
	{domain.ErrStateMismatch, http.StatusConflict, "conversation_state_changed", true},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_record_transition", true},
	{domain.ErrTemporary, http.StatusServiceUnavailable, "temporarily_unavailable", false},
	{domain.ErrNotifier, http.StatusBadGateway, "whatsapp_unavailable", false},
	{domain.ErrRecognition, http.StatusBadGateway, "recognition_failed", false},
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func classifyHTTPError(err error) (int, errorBody) {
	for _, class := range errorClasses {
		if !domain.IsKind(err, class.kind) {
			continue
		}
		body := errorBody{Error: class.kind.Error(), Code: class.code}
		if class.exposed {
			body.Error = err.Error()
		}
		return class.status, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classifyHTTPError(err)
	writeJSON(w, status, body)
}
