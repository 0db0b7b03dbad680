package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/infrastructure/resilience"
)

type Client struct {
	baseURL     string
	textModel   string
	visionModel string
	httpClient  *http.Client
	executor    *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithExecutor routes every call through retries and a circuit breaker.
func WithExecutor(exec *resilience.Executor) Option {
	return func(c *Client) { c.executor = exec }
}

func New(baseURL, textModel, visionModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		textModel:   textModel,
		visionModel: visionModel,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Images  []string       `json:"images,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

func (c *Client) generate(ctx context.Context, operation string, req generateRequest) (string, error) {
	var response string
	err := c.execute(ctx, operation, func(callCtx context.Context) error {
		var err error
		response, err = c.postGenerate(callCtx, operation, req)
		return err
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return wrapModelError(operation, fn(ctx))
	}
	return wrapModelError(operation, c.executor.Execute(ctx, "ollama_"+operation, fn, classifyModelError))
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
