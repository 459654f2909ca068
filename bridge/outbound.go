package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/quailyquaily/peergate/internal/authz"
	"github.com/quailyquaily/peergate/internal/sanitize"
)

var (
	ErrMissingField     = errors.New("bridge: to and message are required")
	ErrInvalidRecipient = errors.New("bridge: invalid phone number format")
	ErrSendFailed       = errors.New("bridge: send failed")
)

var phonePattern = regexp.MustCompile(`^[0-9]{10,15}$`)

const directChatSuffix = "@c.us"

// SendResult identifies a delivered outbound message.
type SendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// SendOutbound handles an API-triggered send for one instance. Sentinel
// errors map onto HTTP statuses at the API layer: instance.ErrNotFound,
// instance.ErrNotInitialized, ErrMissingField, ErrInvalidRecipient,
// ErrSendFailed.
func (r *Router) SendOutbound(ctx context.Context, instanceID, to, message string) (SendResult, error) {
	if _, err := r.manager.Config(instanceID); err != nil {
		return SendResult{}, err
	}
	conn, err := r.manager.Conn(instanceID)
	if err != nil {
		return SendResult{}, err
	}

	to = sanitize.Clean(to)
	message = sanitize.Clean(message)
	if to == "" || message == "" {
		return SendResult{}, ErrMissingField
	}

	digits := authz.Normalize(to)
	if !phonePattern.MatchString(digits) {
		return SendResult{}, ErrInvalidRecipient
	}

	id, err := conn.Send(ctx, digits+directChatSuffix, message)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	r.logger.Info("outbound_sent", "instance_id", instanceID, "to", digits, "message_id", id)
	return SendResult{MessageID: id, Timestamp: time.Now().UTC()}, nil
}
