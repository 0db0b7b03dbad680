package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrRecordNotFound    = errors.New("record not found")
	ErrConflict          = errors.New("identifier already exists")
	ErrStateMismatch     = errors.New("conversation state changed concurrently")
	ErrInvalidTransition = errors.New("invalid record status transition")
	ErrRecognition       = errors.New("text recognition failed")
	ErrPipeline          = errors.New("extraction pipeline failure")
	ErrNotifier          = errors.New("notifier delivery failed")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
