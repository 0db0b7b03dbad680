package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

// Normalizer asks the text model to classify recognized text and pull out
// the receipt fields.
type Normalizer struct {
	client *Client
}

func NewNormalizer(client *Client) *Normalizer {
	return &Normalizer{client: client}
}

func (n *Normalizer) Normalize(ctx context.Context, rawText string) (domain.Normalization, error) {
	respText, err := n.client.generate(ctx, "normalize", generateRequest{
		Model:   n.client.textModel,
		Prompt:  buildNormalizationPrompt(rawText),
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0.1},
	})
	if err != nil {
		return domain.Normalization{}, err
	}
	return parseNormalization(respText)
}

type normalizationPayload struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
	Data   *struct {
		StoreName    *string         `json:"store_name"`
		TotalAmount  flexibleAmount  `json:"total_amount"`
		Currency     *string         `json:"currency"`
		Date         *string         `json:"date"`
		TicketNumber json.RawMessage `json:"ticket_number"`
	} `json:"data"`
}

func parseNormalization(raw string) (domain.Normalization, error) {
	var payload normalizationPayload
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.Normalization{}, fmt.Errorf("parse normalization json: %w", err)
	}
	if !payload.Valid {
		return domain.Normalization{Valid: false, Reason: strings.TrimSpace(payload.Reason)}, nil
	}

	out := domain.Normalization{Valid: true}
	if payload.Data == nil {
		return out, nil
	}
	out.Fields = domain.ReceiptFields{
		StoreName:    nonEmpty(payload.Data.StoreName),
		TotalAmount:  payload.Data.TotalAmount.value,
		Currency:     nonEmpty(payload.Data.Currency),
		Date:         nonEmpty(payload.Data.Date),
		TicketNumber: scalarString(payload.Data.TicketNumber),
	}
	return out, nil
}

// flexibleAmount accepts a JSON number, a numeric string such as "$1,234.50",
// or null. Zero and unparseable values decode as absent.
type flexibleAmount struct {
	value *float64
}

func (a *flexibleAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		a.value = nil
		return nil
	}

	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		a.set(number)
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("total_amount: %w", err)
	}
	cleaned := decimalText(text)
	number, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		a.value = nil
		return nil
	}
	a.set(number)
	return nil
}

// decimalText keeps digits, sign and separators, then treats the rightmost of
// "." and "," as the decimal point when both appear. A separator repeated
// more than once is grouping.
func decimalText(text string) string {
	kept := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, text)

	dot := strings.LastIndex(kept, ".")
	comma := strings.LastIndex(kept, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			kept = strings.ReplaceAll(kept, ".", "")
			return strings.Replace(kept, ",", ".", 1)
		}
		return strings.ReplaceAll(kept, ",", "")
	case comma >= 0:
		if strings.Count(kept, ",") == 1 {
			return strings.Replace(kept, ",", ".", 1)
		}
		return strings.ReplaceAll(kept, ",", "")
	case strings.Count(kept, ".") > 1:
		return strings.ReplaceAll(kept, ".", "")
	}
	return kept
}

func (a *flexibleAmount) set(v float64) {
	if v == 0 {
		a.value = nil
		return
	}
	a.value = &v
}

func nonEmpty(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// scalarString keeps ticket numbers that the model emitted as JSON numbers.
func scalarString(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return nonEmpty(&text)
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		s := number.String()
		return &s
	}
	return nil
}
