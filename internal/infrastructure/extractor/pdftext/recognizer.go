// Package pdftext recognizes receipts that arrive as documents instead of
// photos. PDFs are read with their embedded text layer, plain text is used
// as is, everything else goes to the fallback recognizer.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/core/ports"
)

const maxTextBytes = 1 << 20

type Recognizer struct {
	fallback ports.Recognizer
}

func NewRecognizer(fallback ports.Recognizer) *Recognizer {
	return &Recognizer{fallback: fallback}
}

func (r *Recognizer) Recognize(ctx context.Context, media *domain.Media) (string, error) {
	if media == nil || len(media.Data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "recognize", errors.New("empty media"))
	}

	switch baseMime(media.MimeType) {
	case "application/pdf":
		return extractPDF(media.Data)
	case "text/plain":
		if !utf8.Valid(media.Data) {
			return "", fmt.Errorf("plain text attachment is not valid utf-8")
		}
		return strings.TrimSpace(string(media.Data)), nil
	}

	if r.fallback == nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "recognize", fmt.Errorf("unsupported media type %q", media.MimeType))
	}
	return r.fallback.Recognize(ctx, media)
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(plain, maxTextBytes))
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func baseMime(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
}
