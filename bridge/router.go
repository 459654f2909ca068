// Package bridge routes messages between the peer network and the AI
// response pipeline, applying authorization, group gating, and
// sanitization on the way in.
package bridge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/peergate/conversation"
	"github.com/quailyquaily/peergate/instance"
	"github.com/quailyquaily/peergate/internal/analytics"
	"github.com/quailyquaily/peergate/internal/authz"
	"github.com/quailyquaily/peergate/internal/sanitize"
	"github.com/quailyquaily/peergate/netclient"
	"github.com/quailyquaily/peergate/wfengine"
)

const (
	deniedReply  = "You are not authorized to use this service."
	apologyReply = "Sorry, something went wrong while handling your message. Please try again."
)

type Router struct {
	logger        *slog.Logger
	manager       *instance.Manager
	conversations *conversation.Store
	pipeline      *wfengine.Pipeline
	analytics     *analytics.Queue
}

func NewRouter(logger *slog.Logger, manager *instance.Manager, conversations *conversation.Store, pipeline *wfengine.Pipeline, analyticsQueue *analytics.Queue) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:        logger,
		manager:       manager,
		conversations: conversations,
		pipeline:      pipeline,
		analytics:     analyticsQueue,
	}
}

// HandleInbound runs the inbound pipeline for one message. It never lets a
// failure reach the connection layer: errors and panics end in a best-effort
// apology reply and a log line.
func (r *Router) HandleInbound(ctx context.Context, cfg instance.Config, conn netclient.Conn, msg netclient.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("inbound_panic", "instance_id", cfg.InstanceID, "from", msg.From, "panic", rec)
			r.sendApology(ctx, cfg, conn, msg.From)
		}
	}()
	if err := r.processInbound(ctx, cfg, conn, msg); err != nil {
		r.logger.Error("inbound_error", "instance_id", cfg.InstanceID, "from", msg.From, "error", err.Error())
		r.sendApology(ctx, cfg, conn, msg.From)
	}
}

func (r *Router) processInbound(ctx context.Context, cfg instance.Config, conn netclient.Conn, msg netclient.Message) error {
	selfID := conn.SelfID()

	// 1. Self messages are dropped unless the instance opts in.
	if isSelfMessage(msg, selfID) && !cfg.Options.ProcessSelfMessages {
		return nil
	}

	// 2. Authorization. Denial never mutates a conversation.
	if !authz.IsUserAuthorized(msg.From, msg.IsGroup, cfg.AllowedUsers, cfg.AllowedGroups) {
		r.logger.Debug("inbound_unauthorized", "instance_id", cfg.InstanceID, "from", msg.From)
		if cfg.Options.NotifyUnauthorized {
			if _, err := conn.Send(ctx, msg.From, deniedReply); err != nil {
				r.logger.Warn("denial_notice_error", "instance_id", cfg.InstanceID, "error", err.Error())
			}
		}
		return nil
	}

	// 3. Group messages must address the bot: a mention or the command
	// prefix. Everything else is silently ignored.
	body := msg.Body
	if msg.IsGroup {
		mentioned := mentionsInclude(msg.Mentions, selfID)
		prefixed := strings.HasPrefix(strings.TrimSpace(body), cfg.Options.CommandPrefix)
		if !mentioned && !prefixed {
			return nil
		}
		if mentioned {
			body = stripLeadingMention(body, selfID)
		} else {
			body = strings.TrimPrefix(strings.TrimSpace(body), cfg.Options.CommandPrefix)
		}
		body = strings.TrimSpace(body)
	}

	// 4. Sanitize; an empty result ends the pipeline quietly.
	body = sanitize.Clean(body)
	if body == "" {
		return nil
	}

	// 5. Conversation key: group id for groups, sender id otherwise.
	key := conversation.Key(cfg.InstanceID, msg.From)
	rec, err := r.conversations.Load(key)
	if err != nil {
		return err
	}

	// 6. Typing indicator is best effort.
	if cfg.Options.ShowTypingIndicator {
		if err := conn.SendComposing(ctx, msg.From); err != nil {
			r.logger.Debug("composing_error", "instance_id", cfg.InstanceID, "error", err.Error())
		}
	}

	// 7. Generate the reply; the pipeline cannot fail.
	senderID := msg.From
	if msg.IsGroup && msg.Author != "" {
		senderID = msg.Author
	}
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	reply := r.pipeline.Respond(ctx, workflowConfig(cfg), wfengine.Request{
		InstanceID:   cfg.InstanceID,
		Message:      body,
		Sender:       wfengine.Sender{ID: authz.Normalize(senderID), Name: msg.Author},
		Conversation: rec.Messages,
		Timestamp:    sentAt,
	})

	// 8. Deliver.
	if _, err := conn.Send(ctx, msg.From, reply); err != nil {
		return err
	}

	// 9–11. Record the turn pair, trim, persist.
	userTurn := conversation.Message{Role: conversation.RoleUser, Content: body}
	if msg.IsGroup {
		userTurn.Author = msg.Author
	}
	rec.Messages = append(rec.Messages, userTurn, conversation.Message{Role: conversation.RoleAssistant, Content: reply})
	if err := r.conversations.Save(rec, cfg.Options.MaxConversationLength); err != nil {
		return err
	}

	// 12. Analytics, fire and forget through the bounded queue.
	if cfg.Options.EnableAnalytics && r.analytics != nil {
		r.analytics.Enqueue(analytics.Event{
			InstanceID:    cfg.InstanceID,
			From:          authz.Normalize(msg.From),
			MessageLength: len(body),
			ReplyLength:   len(reply),
			Timestamp:     sentAt,
		})
	}
	return nil
}

func (r *Router) sendApology(ctx context.Context, cfg instance.Config, conn netclient.Conn, to string) {
	if _, err := conn.Send(ctx, to, apologyReply); err != nil {
		r.logger.Warn("apology_send_error", "instance_id", cfg.InstanceID, "error", err.Error())
	}
}

func isSelfMessage(msg netclient.Message, selfID string) bool {
	if selfID == "" {
		return false
	}
	self := authz.Normalize(selfID)
	if msg.IsGroup {
		return authz.Normalize(msg.Author) == self
	}
	return authz.Normalize(msg.From) == self
}

func mentionsInclude(mentions []string, selfID string) bool {
	if selfID == "" {
		return false
	}
	self := authz.Normalize(selfID)
	for _, m := range mentions {
		if authz.Normalize(m) == self {
			return true
		}
	}
	return false
}

// stripLeadingMention removes an initial "@<self>" token.
func stripLeadingMention(body, selfID string) string {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "@") {
		return trimmed
	}
	token, rest, _ := strings.Cut(trimmed, " ")
	if authz.Normalize(strings.TrimPrefix(token, "@")) == authz.Normalize(selfID) {
		return strings.TrimSpace(rest)
	}
	return trimmed
}

func workflowConfig(cfg instance.Config) wfengine.Config {
	return wfengine.Config{
		BaseURL:      cfg.Workflow.BaseURL,
		WebhookPath:  cfg.Workflow.WebhookPath,
		APIKey:       cfg.Workflow.APIKey,
		FallbackPath: cfg.Workflow.FallbackPath,
		Timeout:      cfg.Workflow.Timeout(),
	}
}
