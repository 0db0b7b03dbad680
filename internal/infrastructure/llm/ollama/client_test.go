package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/resilience"
)

func TestRecognizerSendsBase64ImageToVisionModel(t *testing.T) {
	var payload generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"  ACME MARKET TOTAL 12.50  "}`))
	}))
	defer server.Close()

	rec := NewRecognizer(New(server.URL, "text-model", "vision-model"))
	text, err := rec.Recognize(context.Background(), &domain.Media{Data: []byte("jpeg-bytes"), MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if text != "ACME MARKET TOTAL 12.50" {
		t.Fatalf("unexpected text %q", text)
	}
	if payload.Model != "vision-model" {
		t.Fatalf("expected vision model, got %q", payload.Model)
	}
	if len(payload.Images) != 1 || payload.Images[0] != base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")) {
		t.Fatalf("expected base64 image, got %v", payload.Images)
	}
}

func TestRecognizerRejectsEmptyMedia(t *testing.T) {
	rec := NewRecognizer(New("http://127.0.0.1:0", "t", "v"))
	if _, err := rec.Recognize(context.Background(), &domain.Media{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNormalizerParsesValidReceipt(t *testing.T) {
	var payload generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		resp := map[string]string{"response": `{"valid": true, "data": {"store_name": "Acme", "total_amount": "$1,234.50", "currency": "USD", "date": "2026-01-18", "ticket_number": 42}}`}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	norm := NewNormalizer(New(server.URL, "text-model", "vision-model"))
	verdict, err := norm.Normalize(context.Background(), "ACME MARKET\nTOTAL 1234.50")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if payload.Format != "json" || payload.Model != "text-model" {
		t.Fatalf("expected json mode on text model, got %+v", payload)
	}
	if !strings.Contains(payload.Prompt, "ACME MARKET") {
		t.Fatalf("expected raw text in prompt")
	}
	if !verdict.Valid || *verdict.Fields.StoreName != "Acme" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if verdict.Fields.TotalAmount == nil || *verdict.Fields.TotalAmount != 1234.5 {
		t.Fatalf("expected parsed amount, got %v", verdict.Fields.TotalAmount)
	}
	if verdict.Fields.TicketNumber == nil || *verdict.Fields.TicketNumber != "42" {
		t.Fatalf("expected numeric ticket as string, got %v", verdict.Fields.TicketNumber)
	}
}

func TestParseNormalizationRejection(t *testing.T) {
	verdict, err := parseNormalization("```json\n{\"valid\": false, \"reason\": \"restaurant menu\"}\n```")
	if err != nil {
		t.Fatalf("parseNormalization() error = %v", err)
	}
	if verdict.Valid || verdict.Reason != "restaurant menu" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestParseNormalizationNullsAndBlanks(t *testing.T) {
	verdict, err := parseNormalization(`{"valid": true, "data": {"store_name": " ", "total_amount": null, "currency": null, "date": "2026-02-01", "ticket_number": null}}`)
	if err != nil {
		t.Fatalf("parseNormalization() error = %v", err)
	}
	f := verdict.Fields
	if f.StoreName != nil || f.TotalAmount != nil || f.Currency != nil || f.TicketNumber != nil {
		t.Fatalf("expected absent fields, got %+v", f)
	}
	if f.Date == nil || *f.Date != "2026-02-01" {
		t.Fatalf("expected date, got %v", f.Date)
	}
}

func TestParseNormalizationAmountForms(t *testing.T) {
	cases := map[string]*float64{
		`12.5`:         ptr(12.5),
		`"12,50 €"`:    ptr(12.5),
		`"1.234,50 €"`: ptr(1234.5),
		`"$1,234.50"`:  ptr(1234.5),
		`"1.234.567"`:  ptr(1234567),
		`"1,234,567"`:  ptr(1234567),
		`"-3,20"`:      ptr(-3.2),
		`"n/a"`:        nil,
		`0`:            nil,
	}
	for raw, want := range cases {
		verdict, err := parseNormalization(`{"valid": true, "data": {"total_amount": ` + raw + `}}`)
		if err != nil {
			t.Fatalf("%s: parseNormalization() error = %v", raw, err)
		}
		got := verdict.Fields.TotalAmount
		if (got == nil) != (want == nil) || (got != nil && *got != *want) {
			t.Fatalf("%s: expected %v, got %v", raw, want, got)
		}
	}
}

func TestParseNormalizationRejectsProse(t *testing.T) {
	if _, err := parseNormalization("I could not read this receipt"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestGenerateIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	norm := NewNormalizer(New(server.URL, "t", "v"))
	_, err := norm.Normalize(context.Background(), "text")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 502 to be temporary, got %v", err)
	}
}

func TestExecutorRetriesRetryableStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"RECEIPT TEXT 123"}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
	rec := NewRecognizer(New(server.URL, "t", "v", WithExecutor(exec)))
	text, err := rec.Recognize(context.Background(), &domain.Media{Data: []byte("x")})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if text != "RECEIPT TEXT 123" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected retry then success, got %q after %d calls", text, calls)
	}
}

func TestClassifyModelErrorBadRequestIsPermanent(t *testing.T) {
	class := classifyModelError(&StatusError{Operation: "normalize", Model: "t", StatusCode: http.StatusBadRequest})
	if class.Retryable || class.RecordFailure {
		t.Fatalf("expected permanent non-recorded failure, got %+v", class)
	}
}

func TestMissingModelIsNotRetriedButTripsBreaker(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'llava:13b' not found, try pulling it first"}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
	rec := NewRecognizer(New(server.URL, "t", "llava:13b", WithExecutor(exec)))
	_, err := rec.Recognize(context.Background(), &domain.Media{Data: []byte("x")})

	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("missing model must not be temporary: %v", err)
	}
	if !strings.Contains(err.Error(), "llava:13b") {
		t.Fatalf("expected model name in error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || !classifyModelError(statusErr).RecordFailure {
		t.Fatalf("missing model must count as a breaker failure")
	}
}

func TestGenerateReportsErrorFieldInSuccessfulAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"image could not be decoded"}`))
	}))
	defer server.Close()

	rec := NewRecognizer(New(server.URL, "t", "v"))
	_, err := rec.Recognize(context.Background(), &domain.Media{Data: []byte("x")})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Message != "image could not be decoded" {
		t.Fatalf("expected status error with body message, got %v", err)
	}
}

func ptr(v float64) *float64 { return &v }
