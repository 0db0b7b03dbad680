package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/core/ports"
)

// InlineDispatcher processes events in-process on a detached goroutine so
// the webhook can answer the platform before the pipeline finishes.
type InlineDispatcher struct {
	processor ports.EventProcessor
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewInlineDispatcher(processor ports.EventProcessor, timeout time.Duration, logger *slog.Logger) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{processor: processor, timeout: timeout, logger: logger}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, event domain.Event) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.WrapError(domain.ErrTemporary, "dispatch event", errors.New("dispatcher is shutting down"))
	}
	d.wg.Add(1)
	d.mu.Unlock()

	eventCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	go func() {
		defer d.wg.Done()
		defer cancel()

		res := d.processor.ProcessEvent(eventCtx, event)
		if res.Failed() {
			d.logger.Warn("inline_event_failed",
				"event_id", res.EventID,
				"identifier", res.Identifier,
				"error", res.Err,
			)
		}
	}()
	return nil
}

// Close stops accepting events and waits for in-flight ones or ctx.
func (d *InlineDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
