package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/core/ports"
)

// MinRecognizedChars is the shortest recognition output treated as content.
const MinRecognizedChars = 10

const (
	reasonFetchFailed     = "image download failed"
	reasonNormalizeFailed = "receipt normalization failed"
	reasonUnexpected      = "unexpected processing failure"
)

type PipelineTimeouts struct {
	Store     time.Duration
	Fetch     time.Duration
	Recognize time.Duration
	Normalize time.Duration
}

func (t PipelineTimeouts) normalize() PipelineTimeouts {
	out := t
	if out.Store <= 0 {
		out.Store = 5 * time.Second
	}
	if out.Fetch <= 0 {
		out.Fetch = 30 * time.Second
	}
	if out.Recognize <= 0 {
		out.Recognize = 90 * time.Second
	}
	if out.Normalize <= 0 {
		out.Normalize = 60 * time.Second
	}
	return out
}

type ExtractionPipeline struct {
	records    ports.RecordRepository
	media      ports.MediaFetcher
	recognizer ports.Recognizer
	normalizer ports.Normalizer
	archive    ports.ObjectStorage

	timeouts PipelineTimeouts
	observer Observer
	logger   *slog.Logger
}

type PipelineOption func(*ExtractionPipeline)

// WithArchive keeps a copy of every fetched image; failures to archive are logged only.
func WithArchive(storage ports.ObjectStorage) PipelineOption {
	return func(p *ExtractionPipeline) { p.archive = storage }
}

func WithPipelineTimeouts(t PipelineTimeouts) PipelineOption {
	return func(p *ExtractionPipeline) { p.timeouts = t.normalize() }
}

func WithPipelineObserver(o Observer) PipelineOption {
	return func(p *ExtractionPipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *ExtractionPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewExtractionPipeline(
	records ports.RecordRepository,
	media ports.MediaFetcher,
	recognizer ports.Recognizer,
	normalizer ports.Normalizer,
	opts ...PipelineOption,
) *ExtractionPipeline {
	p := &ExtractionPipeline{
		records:    records,
		media:      media,
		recognizer: recognizer,
		normalizer: normalizer,
		timeouts:   PipelineTimeouts{}.normalize(),
		observer:   noopObserver{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives one extraction attempt to a terminal outcome. It never returns
// an error: every failure is folded into an outcome tagged error.
func (p *ExtractionPipeline) Run(ctx context.Context, identifier string, image domain.ImageRef) domain.PipelineOutcome {
	start := time.Now()
	p.observer.PipelineStarted()

	outcome := p.run(ctx, identifier, image)

	p.observer.PipelineFinished(outcome.Status, time.Since(start))
	p.logger.Info("pipeline_finished",
		"identifier", identifier,
		"record_id", outcome.RecordID,
		"status", string(outcome.Status),
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return outcome
}

func (p *ExtractionPipeline) run(ctx context.Context, identifier string, image domain.ImageRef) domain.PipelineOutcome {
	record, err := p.createPending(ctx, identifier, image)
	if err != nil {
		p.logger.Error("pipeline_record_create_failed", "identifier", identifier, "error", err)
		return domain.PipelineOutcome{
			Status: domain.RecordError,
			Reason: reasonUnexpected,
			Err:    domain.WrapError(domain.ErrPipeline, "create pending record", err),
		}
	}

	media, err := p.fetch(ctx, image)
	if err != nil {
		return p.fail(ctx, record, "", reasonFetchFailed, err)
	}
	p.archiveMedia(ctx, record, media)

	text, err := p.recognize(ctx, media)
	if err != nil {
		reason := reasonUnexpected
		if domain.IsKind(err, domain.ErrRecognition) {
			reason = domain.ErrRecognition.Error()
		}
		return p.fail(ctx, record, text, reason, err)
	}

	verdict, err := p.normalize(ctx, text)
	if err != nil {
		return p.fail(ctx, record, text, reasonNormalizeFailed, err)
	}

	if !verdict.Valid {
		reason := strings.TrimSpace(verdict.Reason)
		if reason == "" {
			reason = "not a purchase receipt"
		}
		p.finish(ctx, record.ID, domain.RecordOutcome{
			Status:        domain.RecordInvalid,
			RawText:       text,
			FailureReason: reason,
		})
		return domain.PipelineOutcome{Status: domain.RecordInvalid, RecordID: record.ID, Reason: reason}
	}

	fields := verdict.Fields
	p.finish(ctx, record.ID, domain.RecordOutcome{
		Status:  domain.RecordProcessed,
		Fields:  &fields,
		RawText: text,
	})
	return domain.PipelineOutcome{Status: domain.RecordProcessed, RecordID: record.ID, Fields: &fields}
}

func (p *ExtractionPipeline) createPending(ctx context.Context, identifier string, image domain.ImageRef) (*domain.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Store)
	defer cancel()

	var record *domain.Record
	err := guard("create record", func() error {
		var err error
		record, err = p.records.CreateRecord(callCtx, identifier, image.SourceRef())
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (p *ExtractionPipeline) fetch(ctx context.Context, image domain.ImageRef) (*domain.Media, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Fetch)
	defer cancel()

	var media *domain.Media
	err := guard("fetch image", func() error {
		var err error
		media, err = p.media.FetchImage(callCtx, image)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	if media == nil || len(media.Data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch image", errors.New("empty media payload"))
	}
	if media.MimeType == "" {
		media.MimeType = image.MimeType
	}
	return media, nil
}

func (p *ExtractionPipeline) recognize(ctx context.Context, media *domain.Media) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Recognize)
	defer cancel()

	var text string
	err := guard("recognize", func() error {
		var err error
		text, err = p.recognizer.Recognize(callCtx, media)
		return err
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrPipeline) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrRecognition, "recognize", err)
	}

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinRecognizedChars {
		return text, domain.WrapError(
			domain.ErrRecognition,
			"recognize",
			fmt.Errorf("recognized %d characters, need at least %d", utf8.RuneCountInString(text), MinRecognizedChars),
		)
	}
	return text, nil
}

func (p *ExtractionPipeline) normalize(ctx context.Context, text string) (domain.Normalization, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Normalize)
	defer cancel()

	var verdict domain.Normalization
	err := guard("normalize", func() error {
		var err error
		verdict, err = p.normalizer.Normalize(callCtx, text)
		return err
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrPipeline) {
			return domain.Normalization{}, err
		}
		return domain.Normalization{}, domain.WrapError(domain.ErrPipeline, "normalize", err)
	}
	return verdict, nil
}

func (p *ExtractionPipeline) fail(ctx context.Context, record *domain.Record, rawText, reason string, cause error) domain.PipelineOutcome {
	p.logger.Warn("pipeline_stage_failed",
		"identifier", record.OwnerIdentifier,
		"record_id", record.ID,
		"reason", reason,
		"error", cause,
	)
	p.finish(ctx, record.ID, domain.RecordOutcome{
		Status:        domain.RecordError,
		RawText:       rawText,
		FailureReason: reason,
	})
	return domain.PipelineOutcome{
		Status:   domain.RecordError,
		RecordID: record.ID,
		Reason:   reason,
		Err:      cause,
	}
}

// finish writes the terminal status even when the caller's context is
// already done, so the record never stays pending after a timeout.
func (p *ExtractionPipeline) finish(ctx context.Context, recordID string, outcome domain.RecordOutcome) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeouts.Store)
	defer cancel()

	err := guard("set record outcome", func() error {
		_, err := p.records.SetRecordOutcome(callCtx, recordID, outcome.Normalize())
		return err
	})
	if err != nil {
		p.logger.Error("pipeline_record_outcome_failed",
			"record_id", recordID,
			"status", string(outcome.Status),
			"error", err,
		)
	}
}

func (p *ExtractionPipeline) archiveMedia(ctx context.Context, record *domain.Record, media *domain.Media) {
	if p.archive == nil {
		return
	}
	key := archiveKey(record, media.MimeType)
	callCtx, cancel := context.WithTimeout(ctx, p.timeouts.Store)
	defer cancel()

	err := guard("archive image", func() error {
		return p.archive.Save(callCtx, key, bytes.NewReader(media.Data))
	})
	if err != nil {
		p.logger.Warn("pipeline_archive_failed", "record_id", record.ID, "key", key, "error", err)
	}
}

// guard converts a panic inside a collaborator into an ErrPipeline error.
func guard(operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.WrapError(domain.ErrPipeline, operation, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

func archiveKey(record *domain.Record, mimeType string) string {
	return filepath.Join(sanitizeKeyPart(record.OwnerIdentifier), sanitizeKeyPart(record.ID)+extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".jpg"
	}
}

func sanitizeKeyPart(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if out == "" {
		return "unknown"
	}
	return out
}
