package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/resilience"
)

func TestSendTextPostsToPhoneNumberEndpoint(t *testing.T) {
	var payload map[string]any
	var auth, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	}))
	defer server.Close()

	client := New(Config{APIURL: server.URL, PhoneNumberID: "1234", AccessToken: "secret"})
	if err := client.SendText(context.Background(), "5215550001", "hola"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if path != "/1234/messages" {
		t.Fatalf("unexpected path %q", path)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected authorization %q", auth)
	}
	text, _ := payload["text"].(map[string]any)
	if payload["to"] != "5215550001" || payload["type"] != "text" || text["body"] != "hola" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestAcknowledgeMarksMessageRead(t *testing.T) {
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := New(Config{APIURL: server.URL, PhoneNumberID: "1234"})
	if err := client.Acknowledge(context.Background(), "wamid.in"); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	if payload["status"] != "read" || payload["message_id"] != "wamid.in" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestFetchImageResolvesMediaThenDownloads(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/media-1":
			_ = json.NewEncoder(w).Encode(map[string]any{"url": server.URL + "/blob/media-1", "mime_type": "image/png", "file_size": 4})
		case "/blob/media-1":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("\x89PNG"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(Config{APIURL: server.URL, AccessToken: "secret"})
	media, err := client.FetchImage(context.Background(), domain.ImageRef{MediaID: "media-1"})
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if string(media.Data) != "\x89PNG" || media.MimeType != "image/png" {
		t.Fatalf("unexpected media %+v", media)
	}
	if !strings.HasSuffix(media.URL, "/blob/media-1") {
		t.Fatalf("unexpected media url %q", media.URL)
	}
}

func TestFetchImageRejectsOversizedMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	client := New(Config{APIURL: server.URL, MaxMediaBytes: 16})
	_, err := client.FetchImage(context.Background(), domain.ImageRef{DeliveryURL: server.URL + "/blob"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for oversized media, got %v", err)
	}
}

func TestFetchImageRequiresMediaID(t *testing.T) {
	client := New(Config{APIURL: "http://127.0.0.1:0"})
	if _, err := client.FetchImage(context.Background(), domain.ImageRef{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSendTextRetriesServerErrorsThroughExecutor(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"error":{"message":"temporarily unavailable"}}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
	})
	client := New(Config{APIURL: server.URL, PhoneNumberID: "1", Executor: exec})
	if err := client.SendText(context.Background(), "5215550001", "hi"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestSendTextClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{status: http.StatusTooManyRequests, kind: domain.ErrTemporary},
		{status: http.StatusUnauthorized, kind: domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		client := New(Config{APIURL: server.URL, PhoneNumberID: "1"})
		err := client.SendText(context.Background(), "5215550001", "hi")
		server.Close()
		if !domain.IsKind(err, tc.kind) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.kind, err)
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad recipient", http.StatusBadRequest)
	}))
	defer server.Close()
	err := New(Config{APIURL: server.URL, PhoneNumberID: "1"}).SendText(context.Background(), "x", "hi")
	if err == nil || domain.IsKind(err, domain.ErrTemporary) || !strings.Contains(err.Error(), "bad recipient") {
		t.Fatalf("expected permanent error with body, got %v", err)
	}
}
