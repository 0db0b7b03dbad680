package ollama

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

// Recognizer reads receipt photos with a vision model.
type Recognizer struct {
	client *Client
}

func NewRecognizer(client *Client) *Recognizer {
	return &Recognizer{client: client}
}

func (r *Recognizer) Recognize(ctx context.Context, media *domain.Media) (string, error) {
	if media == nil || len(media.Data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "recognize", errors.New("empty image"))
	}
	return r.client.generate(ctx, "recognize", generateRequest{
		Model:   r.client.visionModel,
		Prompt:  recognitionPrompt,
		Stream:  false,
		Images:  []string{base64.StdEncoding.EncodeToString(media.Data)},
		Options: map[string]any{"temperature": 0},
	})
}
