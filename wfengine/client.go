// Package wfengine calls the remote AI workflow engine and wraps it in the
// three-tier response fallback chain.
package wfengine

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

	"github.com/quailyquaily/peergate/conversation"
)

var ErrUnreachable = errors.New("wfengine: engine unreachable")

const probeTimeout = 5 * time.Second

// Config is the per-call view of one instance's remote workflow settings.
type Config struct {
	BaseURL      string
	WebhookPath  string
	APIKey       string
	FallbackPath string
	Timeout      time.Duration
}

type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// WebhookRequest is the tier-1 payload.
type WebhookRequest struct {
	Message      string                 `json:"message"`
	Sender       Sender                 `json:"sender"`
	Conversation []conversation.Message `json:"conversation"`
	Timestamp    string                 `json:"timestamp"`
	InstanceID   string                 `json:"instanceId"`
}

type Client struct {
	http *http.Client
}

func NewClient() *Client {
	// Per-request deadlines come from the instance's configured timeout.
	return &Client{http: &http.Client{}}
}

// Probe checks that the engine's base URL answers at all. Any HTTP response
// counts; only transport failures mean unreachable.
func (c *Client) Probe(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

// CallWebhook runs the tier-1 request. Success requires a non-empty `output`
// field; anything else is an error and the caller escalates.
func (c *Client) CallWebhook(ctx context.Context, cfg Config, req WebhookRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal webhook payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+cfg.WebhookPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		httpReq.Header.Set("X-Api-Key", key)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook http %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read webhook response: %w", err)
	}
	out, err := parseWebhookOutput(raw)
	if err != nil {
		return "", err
	}
	return out, nil
}

// The engine answers either {"output": "..."} or [{"output": "..."}].
func parseWebhookOutput(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty webhook response")
	}
	type outputBody struct {
		Output string `json:"output"`
	}
	if trimmed[0] == '[' {
		var list []outputBody
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return "", fmt.Errorf("decode webhook response: %w", err)
		}
		if len(list) == 0 || strings.TrimSpace(list[0].Output) == "" {
			return "", fmt.Errorf("webhook response missing output")
		}
		return strings.TrimSpace(list[0].Output), nil
	}
	var single outputBody
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return "", fmt.Errorf("decode webhook response: %w", err)
	}
	if strings.TrimSpace(single.Output) == "" {
		return "", fmt.Errorf("webhook response missing output")
	}
	return strings.TrimSpace(single.Output), nil
}

// CallFallback runs the tier-2 request against the engine's fallback model
// endpoint.
func (c *Client) CallFallback(ctx context.Context, cfg Config, model, prompt string, temperature float64) (string, error) {
	if strings.TrimSpace(cfg.FallbackPath) == "" {
		return "", fmt.Errorf("fallbackPath is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	payload := map[string]any{
		"model":   model,
		"prompt":  prompt,
		"options": map[string]any{"temperature": temperature},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal fallback payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+cfg.FallbackPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		httpReq.Header.Set("X-Api-Key", key)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("fallback request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fallback http %d", resp.StatusCode)
	}
	var out struct {
		Text    string `json:"text"`
		Message string `json:"message"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode fallback response: %w", err)
	}
	for _, candidate := range []string{out.Text, out.Message, out.Content} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("fallback response missing text")
}
