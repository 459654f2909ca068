package wfengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/peergate/conversation"
)

// StaticReply is the tier-3 answer. It cannot fail.
const StaticReply = "Sorry, I'm experiencing technical difficulties right now. Please try again in a few minutes."

const (
	fallbackSystemInstruction = "You are a helpful assistant in a chat conversation. Answer the user's last message briefly and helpfully."
	fallbackTurns             = 5
	fallbackTemperature       = 0.7
	defaultFallbackModel      = "llama3"
)

// Request carries everything one reply generation needs.
type Request struct {
	InstanceID   string
	Message      string
	Sender       Sender
	Conversation []conversation.Message
	Timestamp    time.Time
}

// Pipeline is the three-tier response chain: workflow webhook, fallback
// model, static reply. Each tier is attempted exactly once per message.
type Pipeline struct {
	client        *Client
	logger        *slog.Logger
	fallbackModel string
}

func NewPipeline(client *Client, logger *slog.Logger, fallbackModel string) *Pipeline {
	if client == nil {
		client = NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(fallbackModel) == "" {
		fallbackModel = defaultFallbackModel
	}
	return &Pipeline{client: client, logger: logger, fallbackModel: fallbackModel}
}

// Respond always returns a reply string and never fails; upstream errors
// degrade tier by tier.
func (p *Pipeline) Respond(ctx context.Context, cfg Config, req Request) string {
	out, err := p.client.CallWebhook(ctx, cfg, WebhookRequest{
		Message:      req.Message,
		Sender:       req.Sender,
		Conversation: req.Conversation,
		Timestamp:    req.Timestamp.UTC().Format(time.RFC3339),
		InstanceID:   req.InstanceID,
	})
	if err == nil {
		return out
	}
	p.logger.Warn("wfengine_webhook_failed", "instance_id", req.InstanceID, "error", err.Error())

	out, err = p.client.CallFallback(ctx, cfg, p.fallbackModel, buildFallbackPrompt(req), fallbackTemperature)
	if err == nil {
		return out
	}
	p.logger.Warn("wfengine_fallback_failed", "instance_id", req.InstanceID, "error", err.Error())

	return StaticReply
}

func buildFallbackPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(fallbackSystemInstruction)
	b.WriteString("\n\n")
	for _, msg := range conversation.LastN(req.Conversation, fallbackTurns) {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	fmt.Fprintf(&b, "%s: %s\n%s:", conversation.RoleUser, req.Message, conversation.RoleAssistant)
	return b.String()
}
