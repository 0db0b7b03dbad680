package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

type recordStoreFake struct {
	mu        sync.Mutex
	records   map[string]*domain.Record
	createErr error
	outcomes  []domain.RecordOutcome
	seq       int
}

func newRecordStoreFake() *recordStoreFake {
	return &recordStoreFake{records: map[string]*domain.Record{}}
}

func (f *recordStoreFake) CreateRecord(_ context.Context, owner, sourceRef string) (*domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	rec := &domain.Record{
		ID:              fmt.Sprintf("rec-%d", f.seq),
		OwnerIdentifier: owner,
		Status:          domain.RecordPending,
		SourceRef:       sourceRef,
	}
	f.records[rec.ID] = rec
	copyRec := *rec
	return &copyRec, nil
}

func (f *recordStoreFake) SetRecordOutcome(_ context.Context, id string, outcome domain.RecordOutcome) (*domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	if rec.Status != domain.RecordPending {
		return nil, domain.ErrInvalidTransition
	}
	f.outcomes = append(f.outcomes, outcome)
	rec.Status = outcome.Status
	rec.Fields = outcome.Fields
	rec.RawText = outcome.RawText
	rec.FailureReason = outcome.FailureReason
	copyRec := *rec
	return &copyRec, nil
}

func (f *recordStoreFake) ListRecords(context.Context, string, int) ([]domain.Record, error) {
	return nil, nil
}

func (f *recordStoreFake) GetRecord(_ context.Context, id string) (*domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	copyRec := *rec
	return &copyRec, nil
}

type mediaFetcherFake struct {
	media *domain.Media
	err   error
}

func (f *mediaFetcherFake) FetchImage(context.Context, domain.ImageRef) (*domain.Media, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.media, nil
}

type recognizerFake struct {
	text     string
	err      error
	panicMsg string
	wait     bool
}

func (f *recognizerFake) Recognize(ctx context.Context, _ *domain.Media) (string, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

type normalizerFake struct {
	verdict domain.Normalization
	err     error
	calls   int
}

func (f *normalizerFake) Normalize(context.Context, string) (domain.Normalization, error) {
	f.calls++
	return f.verdict, f.err
}

type archiveFake struct {
	saved map[string][]byte
	err   error
}

func (f *archiveFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[key] = raw
	return nil
}

func (f *archiveFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.saved[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

const receiptText = "ACME MARKET\nTICKET 0042\nTOTAL USD 12.50\n2026-01-18"

func jpegMedia() *domain.Media {
	return &domain.Media{Data: []byte{0xff, 0xd8, 0xff}, MimeType: "image/jpeg"}
}

func acmeVerdict() domain.Normalization {
	store, currency, date, ticket := "Acme", "USD", "2026-01-18", "0042"
	total := 12.5
	return domain.Normalization{
		Valid: true,
		Fields: domain.ReceiptFields{
			StoreName:    &store,
			TotalAmount:  &total,
			Currency:     &currency,
			Date:         &date,
			TicketNumber: &ticket,
		},
	}
}

func TestPipelineRunProcessedReceipt(t *testing.T) {
	records := newRecordStoreFake()
	archive := &archiveFake{}
	p := NewExtractionPipeline(
		records,
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{text: "  " + receiptText + "\n"},
		&normalizerFake{verdict: acmeVerdict()},
		WithArchive(archive),
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})

	if outcome.Status != domain.RecordProcessed || outcome.Fields == nil || *outcome.Fields.StoreName != "Acme" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	rec, err := records.GetRecord(context.Background(), outcome.RecordID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec.Status != domain.RecordProcessed || rec.RawText != receiptText || rec.FailureReason != "" {
		t.Fatalf("unexpected stored record: %+v", rec)
	}
	if rec.SourceRef != "media:m-1" {
		t.Fatalf("expected media source ref, got %q", rec.SourceRef)
	}
	if _, ok := archive.saved[testUser+"/"+rec.ID+".jpg"]; !ok {
		t.Fatalf("expected archived image, got keys %v", archive.saved)
	}
}

func TestPipelineRunInvalidReceipt(t *testing.T) {
	records := newRecordStoreFake()
	p := NewExtractionPipeline(
		records,
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{text: "Today's specials: soup and salad"},
		&normalizerFake{verdict: domain.Normalization{Valid: false, Reason: "restaurant menu"}},
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})

	if outcome.Status != domain.RecordInvalid || outcome.Reason != "restaurant menu" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	rec, _ := records.GetRecord(context.Background(), outcome.RecordID)
	if rec.Status != domain.RecordInvalid || rec.Fields != nil || rec.FailureReason != "restaurant menu" {
		t.Fatalf("unexpected stored record: %+v", rec)
	}
}

func TestPipelineRunInvalidWithoutReasonGetsDefault(t *testing.T) {
	p := NewExtractionPipeline(
		newRecordStoreFake(),
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{text: receiptText},
		&normalizerFake{verdict: domain.Normalization{Valid: false}},
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})
	if outcome.Reason == "" {
		t.Fatalf("expected default rejection reason")
	}
}

func TestPipelineRunShortTextSkipsNormalizer(t *testing.T) {
	records := newRecordStoreFake()
	normalizer := &normalizerFake{verdict: acmeVerdict()}
	p := NewExtractionPipeline(
		records,
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{text: "  abc  "},
		normalizer,
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})

	if outcome.Status != domain.RecordError || outcome.Reason != domain.ErrRecognition.Error() {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !domain.IsKind(outcome.Err, domain.ErrRecognition) {
		t.Fatalf("expected recognition error, got %v", outcome.Err)
	}
	if normalizer.calls != 0 {
		t.Fatalf("normalizer must not run on short text")
	}
	rec, _ := records.GetRecord(context.Background(), outcome.RecordID)
	if rec.Status != domain.RecordError || rec.RawText != "abc" {
		t.Fatalf("expected error record keeping raw text, got %+v", rec)
	}
}

func TestPipelineRunFetchFailure(t *testing.T) {
	records := newRecordStoreFake()
	p := NewExtractionPipeline(
		records,
		&mediaFetcherFake{err: errors.New("404 from media host")},
		&recognizerFake{text: receiptText},
		&normalizerFake{verdict: acmeVerdict()},
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})

	if outcome.Status != domain.RecordError || outcome.Reason != reasonFetchFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	rec, _ := records.GetRecord(context.Background(), outcome.RecordID)
	if rec.Status != domain.RecordError {
		t.Fatalf("record must leave pending, got %s", rec.Status)
	}
}

func TestPipelineRunRecognizerPanicBecomesError(t *testing.T) {
	records := newRecordStoreFake()
	p := NewExtractionPipeline(
		records,
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{panicMsg: "nil model"},
		&normalizerFake{verdict: acmeVerdict()},
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})

	if outcome.Status != domain.RecordError || outcome.Reason != reasonUnexpected {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !domain.IsKind(outcome.Err, domain.ErrPipeline) {
		t.Fatalf("expected pipeline error, got %v", outcome.Err)
	}
	rec, _ := records.GetRecord(context.Background(), outcome.RecordID)
	if rec.Status != domain.RecordError {
		t.Fatalf("record must leave pending, got %s", rec.Status)
	}
}

func TestPipelineRunNormalizerErrorBecomesError(t *testing.T) {
	p := NewExtractionPipeline(
		newRecordStoreFake(),
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{text: receiptText},
		&normalizerFake{err: errors.New("model returned prose")},
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})

	if outcome.Status != domain.RecordError || outcome.Reason != reasonNormalizeFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !domain.IsKind(outcome.Err, domain.ErrPipeline) {
		t.Fatalf("expected pipeline error, got %v", outcome.Err)
	}
}

func TestPipelineRunRecognizeTimeoutStillFinishesRecord(t *testing.T) {
	records := newRecordStoreFake()
	p := NewExtractionPipeline(
		records,
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{wait: true},
		&normalizerFake{verdict: acmeVerdict()},
		WithPipelineTimeouts(PipelineTimeouts{Recognize: 10 * time.Millisecond}),
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})

	if outcome.Status != domain.RecordError {
		t.Fatalf("expected error outcome on timeout, got %+v", outcome)
	}
	if !errors.Is(outcome.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", outcome.Err)
	}
	rec, _ := records.GetRecord(context.Background(), outcome.RecordID)
	if rec.Status != domain.RecordError {
		t.Fatalf("record must leave pending, got %s", rec.Status)
	}
}

func TestPipelineRunCreateFailureHasNoRecord(t *testing.T) {
	records := newRecordStoreFake()
	records.createErr = errors.New("db down")
	p := NewExtractionPipeline(
		records,
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{text: receiptText},
		&normalizerFake{verdict: acmeVerdict()},
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})

	if outcome.Status != domain.RecordError || outcome.RecordID != "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestPipelineRunArchiveFailureDoesNotBreakRun(t *testing.T) {
	p := NewExtractionPipeline(
		newRecordStoreFake(),
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{text: receiptText},
		&normalizerFake{verdict: acmeVerdict()},
		WithArchive(&archiveFake{err: errors.New("disk full")}),
	)

	outcome := p.Run(context.Background(), testUser, domain.ImageRef{MediaID: "m-1"})
	if outcome.Status != domain.RecordProcessed {
		t.Fatalf("expected processed despite archive failure, got %+v", outcome)
	}
}

func TestPipelineWithStateMachineEndToEnd(t *testing.T) {
	users := newUserStoreFake()
	records := newRecordStoreFake()
	notifier := &notifierFake{}
	pipeline := NewExtractionPipeline(
		records,
		&mediaFetcherFake{media: jpegMedia()},
		&recognizerFake{text: receiptText},
		&normalizerFake{verdict: acmeVerdict()},
	)
	sm := NewStateMachine(users, notifier, pipeline, replies)

	ctx := context.Background()
	sm.ProcessEvent(ctx, textEvent("hi"))
	sm.ProcessEvent(ctx, imageEvent())
	sm.ProcessEvent(ctx, textEvent("menu"))

	if users.state(testUser) != domain.StateWelcome {
		t.Fatalf("expected WELCOME after menu, got %s", users.state(testUser))
	}
	got := notifier.texts()
	if len(got) != 4 {
		t.Fatalf("expected four replies, got %v", got)
	}
	if !strings.Contains(got[2], "Acme") || !strings.Contains(got[2], "USD 12.50") {
		t.Fatalf("expected success summary, got %q", got[2])
	}
	if got[3] != replies.Welcome {
		t.Fatalf("expected welcome after menu, got %q", got[3])
	}
	if len(records.outcomes) != 1 || records.outcomes[0].Status != domain.RecordProcessed {
		t.Fatalf("expected one processed record, got %+v", records.outcomes)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"image/png":             ".png",
		"image/jpeg":            ".jpg",
		"application/pdf":       ".pdf",
		"image/webp; charset=x": ".webp",
		"":                      ".jpg",
	}
	for mime, want := range cases {
		if got := extensionFor(mime); got != want {
			t.Fatalf("extensionFor(%q) = %q, want %q", mime, got, want)
		}
	}
}
