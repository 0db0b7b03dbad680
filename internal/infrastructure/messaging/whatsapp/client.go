// Package whatsapp talks to the WhatsApp Cloud API: outbound replies, read
// receipts, media downloads and inbound webhook decoding.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/resilience"
)

const (
	DefaultAPIURL        = "https://graph.facebook.com/v21.0"
	defaultMaxMediaBytes = 16 << 20
)

type Config struct {
	APIURL        string
	PhoneNumberID string
	AccessToken   string
	MaxMediaBytes int64
	HTTPClient    *http.Client
	Executor      *resilience.Executor
}

type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	maxMediaBytes int64
	httpClient    *http.Client
	executor      *resilience.Executor
}

func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	maxBytes := cfg.MaxMediaBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMediaBytes
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:       baseURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		maxMediaBytes: maxBytes,
		httpClient:    hc,
		executor:      cfg.Executor,
	}
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (c *Client) SendText(ctx context.Context, identifier, text string) error {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               identifier,
		Type:             "text",
	}
	msg.Text.Body = text

	return c.execute(ctx, "send_text", func(callCtx context.Context) error {
		return c.postJSON(callCtx, "send_text", msg)
	})
}

// Acknowledge marks the inbound message as read.
func (c *Client) Acknowledge(ctx context.Context, eventID string) error {
	payload := map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        eventID,
	}
	return c.execute(ctx, "mark_read", func(callCtx context.Context) error {
		return c.postJSON(callCtx, "mark_read", payload)
	})
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// FetchImage resolves the media id to a short-lived URL and downloads it.
// A ref that already carries a delivery URL skips the lookup.
func (c *Client) FetchImage(ctx context.Context, ref domain.ImageRef) (*domain.Media, error) {
	info := mediaInfo{URL: ref.DeliveryURL, MimeType: ref.MimeType}
	if info.URL == "" {
		if strings.TrimSpace(ref.MediaID) == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "fetch image", errors.New("media id is required"))
		}
		err := c.execute(ctx, "media_lookup", func(callCtx context.Context) error {
			var lookupErr error
			info, lookupErr = c.lookupMedia(callCtx, ref.MediaID)
			return lookupErr
		})
		if err != nil {
			return nil, err
		}
	}
	if info.FileSize > c.maxMediaBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch image", fmt.Errorf("media is %d bytes, limit %d", info.FileSize, c.maxMediaBytes))
	}

	var data []byte
	var contentType string
	err := c.execute(ctx, "media_download", func(callCtx context.Context) error {
		var downloadErr error
		data, contentType, downloadErr = c.download(callCtx, info.URL)
		return downloadErr
	})
	if err != nil {
		return nil, err
	}

	mimeType := info.MimeType
	if mimeType == "" {
		mimeType = contentType
	}
	if mimeType == "" {
		mimeType = ref.MimeType
	}
	return &domain.Media{Data: data, MimeType: mimeType, URL: info.URL}, nil
}

func (c *Client) lookupMedia(ctx context.Context, mediaID string) (mediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+mediaID, nil)
	if err != nil {
		return mediaInfo{}, fmt.Errorf("create media lookup request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mediaInfo{}, fmt.Errorf("whatsapp media lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return mediaInfo{}, newStatusError("media_lookup", resp)
	}
	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return mediaInfo{}, fmt.Errorf("decode media lookup response: %w", err)
	}
	if info.URL == "" {
		return mediaInfo{}, fmt.Errorf("media lookup returned no url for %s", mediaID)
	}
	return info, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create media download request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp media download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", newStatusError("media_download", resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if int64(len(data)) > c.maxMediaBytes {
		return nil, "", domain.WrapError(domain.ErrInvalidInput, "download media", fmt.Errorf("media exceeds %d bytes", c.maxMediaBytes))
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) postJSON(ctx context.Context, operation string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newStatusError(operation, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return wrapTemporaryIfNeeded(operation, fn(ctx))
	}
	return wrapTemporaryIfNeeded(operation, c.executor.Execute(ctx, "whatsapp_"+operation, fn, classifyWhatsAppError))
}
