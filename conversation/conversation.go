// Package conversation keeps a bounded, ordered message log per
// (instance, peer) pair.
package conversation

import (
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation. Author is set on user turns from
// group chats to tell participants apart.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Author  string `json:"author,omitempty"`
}

// Record is the full history for one conversation key.
type Record struct {
	Key       string    `json:"conversationKey"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key scopes a history to one instance and one peer (user or group id).
func Key(instanceID, peerID string) string {
	return fmt.Sprintf("%s_%s", instanceID, peerID)
}

// Trim keeps the most recent max messages, preserving relative order.
// max <= 0 leaves msgs untouched.
func Trim(msgs []Message, max int) []Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	return msgs[len(msgs)-max:]
}

// LastN returns up to n trailing messages without copying.
func LastN(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
