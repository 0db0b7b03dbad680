package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/core/ports"
	"github.com/kirillkom/ticket-assistant/internal/i18n"
)

const DefaultMenuKeyword = "menu"

type StateMachineOptions struct {
	MenuKeyword   string
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration

	// CommitAttempts bounds the retries of the terminal SUCCEEDED/FAILED
	// write after a pipeline run.
	CommitAttempts int
	CommitBackoff  time.Duration
}

func (o StateMachineOptions) normalize() StateMachineOptions {
	out := o
	if strings.TrimSpace(out.MenuKeyword) == "" {
		out.MenuKeyword = DefaultMenuKeyword
	}
	out.MenuKeyword = strings.ToLower(strings.TrimSpace(out.MenuKeyword))
	if out.StoreTimeout <= 0 {
		out.StoreTimeout = 5 * time.Second
	}
	if out.NotifyTimeout <= 0 {
		out.NotifyTimeout = 10 * time.Second
	}
	if out.CommitAttempts <= 0 {
		out.CommitAttempts = 3
	}
	if out.CommitBackoff <= 0 {
		out.CommitBackoff = 200 * time.Millisecond
	}
	return out
}

// StateMachine is the per-user conversation orchestrator.
type StateMachine struct {
	users    ports.UserRepository
	notifier ports.Notifier
	pipeline ports.PipelineRunner
	replies  i18n.Catalogue

	opts     StateMachineOptions
	observer Observer
	logger   *slog.Logger
}

type StateMachineOption func(*StateMachine)

func WithOptions(opts StateMachineOptions) StateMachineOption {
	return func(sm *StateMachine) { sm.opts = opts.normalize() }
}

func WithObserver(o Observer) StateMachineOption {
	return func(sm *StateMachine) {
		if o != nil {
			sm.observer = o
		}
	}
}

func WithLogger(l *slog.Logger) StateMachineOption {
	return func(sm *StateMachine) {
		if l != nil {
			sm.logger = l
		}
	}
}

func NewStateMachine(
	users ports.UserRepository,
	notifier ports.Notifier,
	pipeline ports.PipelineRunner,
	replies i18n.Catalogue,
	opts ...StateMachineOption,
) *StateMachine {
	sm := &StateMachine{
		users:    users,
		notifier: notifier,
		pipeline: pipeline,
		replies:  replies,
		opts:     StateMachineOptions{}.normalize(),
		observer: noopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// ProcessEvent handles one inbound event for one user. Every failure is
// caught here, logged, answered with a single apology and reported in the
// returned result.
func (sm *StateMachine) ProcessEvent(ctx context.Context, event domain.Event) domain.EventResult {
	t := &turn{
		sm:    sm,
		ctx:   ctx,
		event: event,
		result: domain.EventResult{
			EventID:    event.ID,
			Identifier: event.Identifier,
			Kind:       event.Kind,
		},
	}

	sm.acknowledge(ctx, event)

	err := t.run()
	if err != nil {
		t.apologize(err)
	}
	sm.observer.EventProcessed(event.Kind, t.result.From, err != nil)
	return t.result
}

func (sm *StateMachine) acknowledge(ctx context.Context, event domain.Event) {
	if event.ID == "" {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, sm.opts.NotifyTimeout)
	defer cancel()
	if err := sm.notifier.Acknowledge(callCtx, event.ID); err != nil {
		sm.logger.Warn("event_acknowledge_failed",
			"identifier", event.Identifier,
			"event_id", event.ID,
			"error", domain.WrapError(domain.ErrNotifier, "acknowledge", err),
		)
	}
}

// loadOrCreate returns the stored user, creating it in WELCOME on first
// contact. A concurrent creation by another event is resolved by re-reading.
func (sm *StateMachine) loadOrCreate(ctx context.Context, identifier string) (*domain.User, error) {
	user, err := sm.getUser(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !domain.IsKind(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, sm.opts.StoreTimeout)
	defer cancel()
	user, err = sm.users.CreateUser(callCtx, identifier, domain.StateWelcome)
	if err == nil {
		sm.logger.Info("user_created", "identifier", identifier)
		return user, nil
	}
	if !domain.IsKind(err, domain.ErrConflict) {
		return nil, fmt.Errorf("create user: %w", err)
	}

	user, err = sm.getUser(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("reload user after conflict: %w", err)
	}
	return user, nil
}

func (sm *StateMachine) getUser(ctx context.Context, identifier string) (*domain.User, error) {
	callCtx, cancel := context.WithTimeout(ctx, sm.opts.StoreTimeout)
	defer cancel()
	return sm.users.GetUser(callCtx, identifier)
}

// turn is the processing of a single event; state tracks the stored state
// as this turn has written it.
type turn struct {
	sm     *StateMachine
	ctx    context.Context
	event  domain.Event
	state  domain.State
	result domain.EventResult

	// redispatched is set once the event was handed again to the state
	// another event committed first.
	redispatched bool
}

func (t *turn) run() error {
	if err := validateEvent(t.event); err != nil {
		return err
	}

	user, err := t.sm.loadOrCreate(t.ctx, t.event.Identifier)
	if err != nil {
		return err
	}
	t.state = user.State
	t.result.From = user.State
	t.result.To = user.State

	t.sm.logger.Info("processing_event",
		"identifier", t.event.Identifier,
		"event_id", t.event.ID,
		"kind", string(t.event.Kind),
		"state", string(t.state),
	)
	return t.dispatch()
}

func (t *turn) dispatch() error {
	switch t.state {
	case domain.StateWelcome:
		return t.onWelcome()
	case domain.StateAwaitingInput:
		return t.onAwaitingInput()
	case domain.StateProcessing:
		return t.onProcessing()
	case domain.StateSucceeded:
		return t.onFinished(t.sm.replies.SucceededFollowUp)
	case domain.StateFailed:
		return t.onFinished(t.sm.replies.FailedFollowUp)
	default:
		t.sm.logger.Error("unknown_conversation_state",
			"identifier", t.event.Identifier,
			"state", string(t.state),
		)
		return t.advance(domain.StateWelcome, t.onWelcome)
	}
}

// onWelcome treats any event as first contact. The welcome goes out only
// once AWAITING_INPUT is stored.
func (t *turn) onWelcome() error {
	return t.advance(domain.StateAwaitingInput, func() error {
		t.reply(t.ctx, t.sm.replies.Welcome)
		return nil
	})
}

func (t *turn) onAwaitingInput() error {
	if t.event.Kind == domain.EventImage {
		return t.startPipeline(t.sm.replies.ProcessingStarted)
	}
	t.reply(t.ctx, t.sm.replies.SendImage)
	return nil
}

func (t *turn) onProcessing() error {
	t.reply(t.ctx, t.sm.replies.StillProcessing)
	return nil
}

// onFinished serves SUCCEEDED and FAILED. An image starts a new run without
// the follow-up prompt of the previous one.
func (t *turn) onFinished(followUp string) error {
	if t.event.Kind == domain.EventImage {
		return t.startPipeline(t.sm.replies.ProcessingAnother)
	}
	if t.mentionsMenu() {
		return t.advance(domain.StateWelcome, func() error {
			t.reply(t.ctx, t.sm.replies.Welcome)
			return nil
		})
	}
	t.reply(t.ctx, followUp)
	return nil
}

func (t *turn) startPipeline(ack string) error {
	if err := t.commit(t.ctx, domain.StateProcessing); err != nil {
		if domain.IsKind(err, domain.ErrStateMismatch) {
			return t.rejectBusy(err)
		}
		return err
	}
	t.reply(t.ctx, ack)

	outcome := t.sm.pipeline.Run(t.ctx, t.event.Identifier, *t.event.Image)
	t.result.Pipeline = &outcome

	if err := t.commitTerminal(outcome.NextState()); err != nil {
		return fmt.Errorf("commit pipeline outcome: %w", err)
	}

	detached := context.WithoutCancel(t.ctx)
	switch outcome.Status {
	case domain.RecordProcessed:
		t.reply(detached, t.sm.replies.SuccessMessage(*outcome.Fields))
	case domain.RecordInvalid:
		t.reply(detached, t.sm.replies.RejectedMessage(outcome.Reason))
	default:
		t.reply(detached, t.sm.replies.ProcessingError)
	}
	return nil
}

// rejectBusy answers an image that lost the race into PROCESSING. It never
// starts a run; the reply follows the state the winner left behind.
func (t *turn) rejectBusy(cause error) error {
	t.result.Busy = true
	t.sm.logger.Warn("pipeline_already_running",
		"identifier", t.event.Identifier,
		"event_id", t.event.ID,
		"observed_state", string(t.state),
		"error", cause,
	)
	if err := t.reload(); err != nil {
		return err
	}

	switch t.state {
	case domain.StateProcessing:
		t.reply(t.ctx, t.sm.replies.StillProcessing)
	case domain.StateAwaitingInput:
		t.reply(t.ctx, t.sm.replies.SendImage)
	case domain.StateSucceeded:
		t.reply(t.ctx, t.sm.replies.SucceededFollowUp)
	case domain.StateFailed:
		t.reply(t.ctx, t.sm.replies.FailedFollowUp)
	default:
		// WELCOME and unknown states never start a run.
		t.redispatched = true
		return t.dispatch()
	}
	return nil
}

// advance commits next and then runs onCommitted. When another event moved
// the user first, this event is handled again from the stored state instead.
func (t *turn) advance(next domain.State, onCommitted func() error) error {
	err := t.commit(t.ctx, next)
	switch {
	case err == nil:
		return onCommitted()
	case domain.IsKind(err, domain.ErrStateMismatch):
		return t.redispatch(err)
	default:
		return err
	}
}

// redispatch handles the event as if it had arrived after the concurrent
// one. It happens at most once per event; a second lost write ends the turn
// without a reply.
func (t *turn) redispatch(cause error) error {
	if t.redispatched {
		t.sm.logger.Warn("conversation_state_contended",
			"identifier", t.event.Identifier,
			"event_id", t.event.ID,
			"state", string(t.state),
			"error", cause,
		)
		return nil
	}
	t.redispatched = true

	observed := t.state
	if err := t.reload(); err != nil {
		return err
	}
	t.sm.logger.Info("conversation_state_changed_concurrently",
		"identifier", t.event.Identifier,
		"event_id", t.event.ID,
		"observed_state", string(observed),
		"stored_state", string(t.state),
	)
	return t.dispatch()
}

func (t *turn) reload() error {
	user, err := t.sm.getUser(t.ctx, t.event.Identifier)
	if err != nil {
		return fmt.Errorf("reload user after concurrent transition: %w", err)
	}
	t.state = user.State
	t.result.To = user.State
	return nil
}

func (t *turn) commit(ctx context.Context, next domain.State) error {
	callCtx, cancel := context.WithTimeout(ctx, t.sm.opts.StoreTimeout)
	defer cancel()

	if _, err := t.sm.users.SetState(callCtx, t.event.Identifier, t.state, next); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", t.state, next, err)
	}
	t.sm.logger.Info("state_transition",
		"identifier", t.event.Identifier,
		"from", string(t.state),
		"to", string(next),
	)
	t.sm.observer.StateChanged(t.state, next)
	t.state = next
	t.result.To = next
	t.result.Transitions++
	return nil
}

// commitTerminal leaves PROCESSING even when the event context is already
// cancelled; transient store errors are retried.
func (t *turn) commitTerminal(next domain.State) error {
	ctx := context.WithoutCancel(t.ctx)
	var err error
	for attempt := 1; attempt <= t.sm.opts.CommitAttempts; attempt++ {
		err = t.commit(ctx, next)
		if err == nil || domain.IsKind(err, domain.ErrStateMismatch) {
			return err
		}
		if attempt == t.sm.opts.CommitAttempts {
			break
		}
		t.sm.logger.Warn("terminal_transition_retry",
			"identifier", t.event.Identifier,
			"to", string(next),
			"attempt", attempt,
			"error", err,
		)
		time.Sleep(t.sm.opts.CommitBackoff * time.Duration(attempt))
	}
	return err
}

func (t *turn) reply(ctx context.Context, text string) {
	callCtx, cancel := context.WithTimeout(ctx, t.sm.opts.NotifyTimeout)
	defer cancel()

	if err := t.sm.notifier.SendText(callCtx, t.event.Identifier, text); err != nil {
		t.result.RepliesFailed++
		t.sm.logger.Error("reply_delivery_failed",
			"identifier", t.event.Identifier,
			"state", string(t.state),
			"error", domain.WrapError(domain.ErrNotifier, "send text", err),
		)
		return
	}
	t.result.RepliesSent++
}

func (t *turn) apologize(err error) {
	t.result.Err = err
	t.sm.logger.Error("event_processing_failed",
		"identifier", t.event.Identifier,
		"event_id", t.event.ID,
		"state", string(t.state),
		"error", err,
	)
	if t.event.Identifier == "" {
		return
	}

	sent := t.result.RepliesSent
	t.reply(context.WithoutCancel(t.ctx), t.sm.replies.Apology)
	if t.result.RepliesSent > sent {
		t.result.Apologized = true
		t.sm.observer.Apologized()
	}
}

func (t *turn) mentionsMenu() bool {
	return strings.Contains(strings.ToLower(t.event.Body), t.sm.opts.MenuKeyword)
}

func validateEvent(event domain.Event) error {
	if strings.TrimSpace(event.Identifier) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate event", errors.New("identifier is required"))
	}
	switch event.Kind {
	case domain.EventText:
		return nil
	case domain.EventImage:
		if event.Image == nil || strings.TrimSpace(event.Image.MediaID) == "" && strings.TrimSpace(event.Image.DeliveryURL) == "" {
			return domain.WrapError(domain.ErrInvalidInput, "validate event", errors.New("image event without media reference"))
		}
		return nil
	default:
		return domain.WrapError(domain.ErrInvalidInput, "validate event", fmt.Errorf("unsupported event kind %q", event.Kind))
	}
}
