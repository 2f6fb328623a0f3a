package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookHook POSTs each event as JSON.
type WebhookHook struct {
	id      string
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookHook(id, url string, timeout time.Duration) *WebhookHook {
	return &WebhookHook{
		id:      id,
		url:     url,
		headers: make(map[string]string),
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *WebhookHook) AddHeader(key, value string) *WebhookHook {
	h.headers[key] = value
	return h
}

func (h *WebhookHook) Type() string { return "webhook" }
func (h *WebhookHook) ID() string   { return h.id }

func (h *WebhookHook) Execute(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook hook %s: marshal: %w", h.id, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook hook %s: build request: %w", h.id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Relay-Event", string(event.Type))
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook hook %s: request failed: %w", h.id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook hook %s: server returned status %d", h.id, resp.StatusCode)
	}
	return nil
}
