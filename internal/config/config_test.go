package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"DISPATCH_MODE", "MENU_KEYWORD", "REPLY_LOCALE", "STORE_TIMEOUT_MS",
		"EVENT_TIMEOUT_SECONDS", "RECORD_HISTORY_LIMIT", "BREAKER_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.DispatchMode != DispatchInline {
		t.Fatalf("expected inline dispatch by default, got %q", cfg.DispatchMode)
	}
	if cfg.MenuKeyword != "menu" {
		t.Fatalf("expected default menu keyword, got %q", cfg.MenuKeyword)
	}
	if cfg.ReplyLocale != "en" {
		t.Fatalf("expected default locale en, got %q", cfg.ReplyLocale)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("expected 5s store timeout, got %s", cfg.StoreTimeout)
	}
	if cfg.EventTimeout != 5*time.Minute {
		t.Fatalf("expected 5m event timeout, got %s", cfg.EventTimeout)
	}
	if cfg.RecordHistoryLimit != 20 {
		t.Fatalf("expected history limit 20, got %d", cfg.RecordHistoryLimit)
	}
	if !cfg.Resilience.BreakerEnabled {
		t.Fatalf("expected breaker enabled by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("DISPATCH_MODE", " Queue ")
	t.Setenv("MENU_KEYWORD", "inicio")
	t.Setenv("STORE_TIMEOUT_MS", "750")
	t.Setenv("RECOGNIZE_TIMEOUT_SECONDS", "15")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("BREAKER_FAILURE_RATIO", "0.25")
	t.Setenv("BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.DispatchMode != DispatchQueue {
		t.Fatalf("expected queue dispatch, got %q", cfg.DispatchMode)
	}
	if cfg.MenuKeyword != "inicio" {
		t.Fatalf("expected menu keyword override, got %q", cfg.MenuKeyword)
	}
	if cfg.StoreTimeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms store timeout, got %s", cfg.StoreTimeout)
	}
	if cfg.RecognizeTimeout != 15*time.Second {
		t.Fatalf("expected 15s recognize timeout, got %s", cfg.RecognizeTimeout)
	}
	if cfg.Resilience.RetryMaxAttempts != 5 {
		t.Fatalf("expected 5 retry attempts, got %d", cfg.Resilience.RetryMaxAttempts)
	}
	if cfg.Resilience.BreakerFailureRatio != 0.25 {
		t.Fatalf("expected failure ratio 0.25, got %v", cfg.Resilience.BreakerFailureRatio)
	}
	if cfg.Resilience.BreakerEnabled {
		t.Fatalf("expected breaker disabled by override")
	}
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("DISPATCH_MODE", "kafka")
	t.Setenv("RECORD_HISTORY_LIMIT", "-3")
	t.Setenv("NOTIFY_TIMEOUT_MS", "soon")

	cfg := Load()
	if cfg.DispatchMode != DispatchInline {
		t.Fatalf("expected unknown dispatch mode to fall back to inline, got %q", cfg.DispatchMode)
	}
	if cfg.RecordHistoryLimit != 20 {
		t.Fatalf("expected negative limit to fall back, got %d", cfg.RecordHistoryLimit)
	}
	if cfg.NotifyTimeout != 10*time.Second {
		t.Fatalf("expected invalid timeout to fall back, got %s", cfg.NotifyTimeout)
	}
}
