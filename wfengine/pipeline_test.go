package wfengine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quailyquaily/peergate/conversation"
)

type engineStub struct {
	t             *testing.T
	server        *httptest.Server
	webhookStatus int
	webhookBody   string
	fallbackBody  string
	webhookCalls  atomic.Int64
	fallbackCalls atomic.Int64
	lastWebhook   []byte
}

func newEngineStub(t *testing.T) *engineStub {
	t.Helper()
	s := &engineStub{t: t, webhookStatus: http.StatusOK}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/webhook/test":
			s.webhookCalls.Add(1)
			s.lastWebhook, _ = io.ReadAll(r.Body)
			w.WriteHeader(s.webhookStatus)
			_, _ = io.WriteString(w, s.webhookBody)
		case "/api/generate":
			s.fallbackCalls.Add(1)
			if s.fallbackBody == "" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = io.WriteString(w, s.fallbackBody)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *engineStub) config() Config {
	return Config{
		BaseURL:      s.server.URL,
		WebhookPath:  "/webhook/test",
		FallbackPath: "/api/generate",
		Timeout:      2 * time.Second,
	}
}

func testRequest() Request {
	return Request{
		InstanceID: "bot1",
		Message:    "hello",
		Sender:     Sender{ID: "5551234567", Name: "Ada"},
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPipelineWebhookSuccess(t *testing.T) {
	t.Parallel()

	stub := newEngineStub(t)
	stub.webhookBody = `{"output": "hi from workflow"}`
	p := NewPipeline(NewClient(), nil, "")

	got := p.Respond(context.Background(), stub.config(), testRequest())
	if got != "hi from workflow" {
		t.Fatalf("Respond() = %q", got)
	}
	if stub.fallbackCalls.Load() != 0 {
		t.Fatalf("fallback tier called despite webhook success")
	}

	var payload struct {
		Message    string `json:"message"`
		InstanceID string `json:"instanceId"`
		Timestamp  string `json:"timestamp"`
		Sender     Sender `json:"sender"`
	}
	if err := json.Unmarshal(stub.lastWebhook, &payload); err != nil {
		t.Fatalf("decode webhook payload: %v", err)
	}
	if payload.Message != "hello" || payload.InstanceID != "bot1" {
		t.Fatalf("webhook payload = %+v", payload)
	}
	if payload.Sender.ID != "5551234567" {
		t.Fatalf("webhook sender = %+v", payload.Sender)
	}
	if payload.Timestamp != "2026-08-01T12:00:00Z" {
		t.Fatalf("webhook timestamp = %q", payload.Timestamp)
	}
}

func TestPipelineWebhookArrayOutput(t *testing.T) {
	t.Parallel()

	stub := newEngineStub(t)
	stub.webhookBody = `[{"output": "array answer"}]`
	p := NewPipeline(NewClient(), nil, "")

	if got := p.Respond(context.Background(), stub.config(), testRequest()); got != "array answer" {
		t.Fatalf("Respond() = %q", got)
	}
}

func TestPipelineFallbackOnWebhookError(t *testing.T) {
	t.Parallel()

	stub := newEngineStub(t)
	stub.webhookStatus = http.StatusInternalServerError
	stub.fallbackBody = `{"text": "fallback answer"}`
	p := NewPipeline(NewClient(), nil, "llama3")

	req := testRequest()
	req.Conversation = []conversation.Message{
		{Role: conversation.RoleUser, Content: "earlier question"},
		{Role: conversation.RoleAssistant, Content: "earlier answer"},
	}
	if got := p.Respond(context.Background(), stub.config(), req); got != "fallback answer" {
		t.Fatalf("Respond() = %q", got)
	}
	if stub.webhookCalls.Load() != 1 || stub.fallbackCalls.Load() != 1 {
		t.Fatalf("calls: webhook=%d fallback=%d", stub.webhookCalls.Load(), stub.fallbackCalls.Load())
	}
}

func TestPipelineFallbackOnMissingOutput(t *testing.T) {
	t.Parallel()

	stub := newEngineStub(t)
	stub.webhookBody = `{"something": "else"}`
	stub.fallbackBody = `{"message": "fallback answer"}`
	p := NewPipeline(NewClient(), nil, "")

	if got := p.Respond(context.Background(), stub.config(), testRequest()); got != "fallback answer" {
		t.Fatalf("Respond() = %q", got)
	}
}

func TestPipelineStaticReplyWhenAllTiersFail(t *testing.T) {
	t.Parallel()

	stub := newEngineStub(t)
	stub.webhookStatus = http.StatusBadGateway
	p := NewPipeline(NewClient(), nil, "")

	if got := p.Respond(context.Background(), stub.config(), testRequest()); got != StaticReply {
		t.Fatalf("Respond() = %q, want static reply", got)
	}
	if stub.webhookCalls.Load() != 1 || stub.fallbackCalls.Load() != 1 {
		t.Fatalf("calls: webhook=%d fallback=%d, want one each", stub.webhookCalls.Load(), stub.fallbackCalls.Load())
	}
}

func TestPipelineStaticReplyWhenFallbackUnconfigured(t *testing.T) {
	t.Parallel()

	stub := newEngineStub(t)
	stub.webhookStatus = http.StatusBadGateway
	cfg := stub.config()
	cfg.FallbackPath = ""
	p := NewPipeline(NewClient(), nil, "")

	if got := p.Respond(context.Background(), cfg, testRequest()); got != StaticReply {
		t.Fatalf("Respond() = %q, want static reply", got)
	}
}

func TestPipelineWebhookTimeout(t *testing.T) {
	t.Parallel()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/webhook/test" {
			time.Sleep(300 * time.Millisecond)
		}
		_, _ = io.WriteString(w, `{"text": "fallback answer"}`)
	}))
	defer slow.Close()

	cfg := Config{
		BaseURL:      slow.URL,
		WebhookPath:  "/webhook/test",
		FallbackPath: "/api/generate",
		Timeout:      50 * time.Millisecond,
	}
	p := NewPipeline(NewClient(), nil, "")
	if got := p.Respond(context.Background(), cfg, testRequest()); got != "fallback answer" {
		t.Fatalf("Respond() = %q", got)
	}
}

func TestBuildFallbackPromptTrimsHistory(t *testing.T) {
	t.Parallel()

	req := testRequest()
	for i := 0; i < 10; i++ {
		req.Conversation = append(req.Conversation, conversation.Message{
			Role:    conversation.RoleUser,
			Content: "old",
		})
	}
	prompt := buildFallbackPrompt(req)
	if count := strings.Count(prompt, "user: old"); count != fallbackTurns {
		t.Fatalf("prompt carries %d history turns, want %d", count, fallbackTurns)
	}
	if !strings.HasSuffix(prompt, conversation.RoleAssistant+":") {
		t.Fatalf("prompt does not end with the assistant cue: %q", prompt)
	}
}
