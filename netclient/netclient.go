// Package netclient talks to the peer messaging network. The bridge core
// only depends on the Dialer/Conn interfaces; the bundled implementation
// reaches the network through a gateway websocket session.
package netclient

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConnected = errors.New("netclient: not connected")
	ErrClosed       = errors.New("netclient: connection closed")
)

// ConnState is the connectivity of one network session as reported by the
// connection itself.
type ConnState string

const (
	ConnStateIdle         ConnState = "idle"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateClosed       ConnState = "closed"
)

// Message is one inbound message event from the network.
type Message struct {
	// From is the chat the message arrived in: a user id for direct chats,
	// a group id for group chats.
	From string
	// Author is the sending user inside a group chat, empty otherwise.
	Author   string
	Body     string
	IsGroup  bool
	Mentions []string
	SentAt   time.Time
}

// Handlers receives session lifecycle and message events. Callbacks run on
// the connection's event goroutine; implementations must not block for long.
type Handlers struct {
	OnQR            func(code string)
	OnAuthenticated func()
	OnAuthFailure   func(reason string)
	OnReady         func()
	OnDisconnected  func(reason string)
	OnMessage       func(msg Message)
}

// DialOptions configures one instance's session.
type DialOptions struct {
	InstanceID string
	// SessionDir holds the session's resume token between runs.
	SessionDir string
	Handlers   Handlers
}

// Conn is one instance's live session with the messaging network.
type Conn interface {
	// Connect establishes (or re-establishes) the session and starts
	// delivering events. It returns once the transport is up.
	Connect(ctx context.Context) error
	// Send delivers text to a user or group id and returns a message id.
	Send(ctx context.Context, to, text string) (string, error)
	// SendComposing signals a typing indicator; best effort.
	SendComposing(ctx context.Context, to string) error
	// SelfID is the network identity of this session, empty until ready.
	SelfID() string
	State() ConnState
	// Close tears the session down. Idempotent.
	Close(ctx context.Context) error
}

// Dialer constructs connections. The production dialer is WSDialer; tests
// substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}
