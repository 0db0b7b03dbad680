package i18n

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

func strPtr(v string) *string { return &v }

func TestSuccessMessageIncludesAllFields(t *testing.T) {
	amount := 12.5
	msg := Default("en").SuccessMessage(domain.ReceiptFields{
		StoreName:    strPtr("Acme"),
		TotalAmount:  &amount,
		Currency:     strPtr("USD"),
		Date:         strPtr("2026-01-18"),
		TicketNumber: strPtr("77"),
	})
	for _, want := range []string{"Acme", "USD 12.50", "2026-01-18", "77"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in success message, got %q", want, msg)
		}
	}
}

func TestSuccessMessageUsesPlaceholderForMissingFields(t *testing.T) {
	msg := Default("es").SuccessMessage(domain.ReceiptFields{})
	if strings.Count(msg, "No disponible") != 4 {
		t.Fatalf("expected four unavailable placeholders, got %q", msg)
	}
	if strings.Contains(msg, "Total:  ") {
		t.Fatalf("expected collapsed spacing without currency, got %q", msg)
	}
}

func TestRejectedMessageCarriesReason(t *testing.T) {
	msg := Default("en").RejectedMessage("not a receipt")
	if !strings.Contains(msg, "not a receipt") {
		t.Fatalf("expected reason in message, got %q", msg)
	}
}

func TestLoadFileOverridesSingleEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replies.yaml")
	content := "en:\n  welcome: \"hello there\"\nes:\n  welcome: \"hola\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write replies file: %v", err)
	}

	cat, err := LoadFile(path, "en")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cat.Welcome != "hello there" {
		t.Fatalf("expected overridden welcome, got %q", cat.Welcome)
	}
	if cat.Apology != Default("en").Apology {
		t.Fatalf("expected default apology to survive overlay, got %q", cat.Apology)
	}
}

func TestLoadFileEmptyPathReturnsDefaults(t *testing.T) {
	cat, err := LoadFile("", "es")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cat != Default("es") {
		t.Fatalf("expected spanish defaults")
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("en: [unterminated"), "en", Default("en")); err == nil {
		t.Fatalf("expected parse error")
	}
}
