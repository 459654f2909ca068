package netclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quailyquaily/peergate/internal/fsstore"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	writeTimeout            = 10 * time.Second
	sessionFilename         = "session.json"
)

// sessionRecord is the per-instance session state persisted under the
// session directory; the resume token lets a reconnect pick up the
// authenticated session without a new QR scan.
type sessionRecord struct {
	ResumeToken string    `json:"resumeToken"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// WSDialer opens messaging-network sessions through the network gateway's
// websocket endpoint. One websocket carries one instance's session.
type WSDialer struct {
	GatewayURL       string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

func (d *WSDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	gatewayURL := strings.TrimSpace(d.GatewayURL)
	if gatewayURL == "" {
		return nil, fmt.Errorf("netclient: gateway url is required")
	}
	if _, err := url.Parse(gatewayURL); err != nil {
		return nil, fmt.Errorf("netclient: invalid gateway url: %w", err)
	}
	if strings.TrimSpace(opts.InstanceID) == "" {
		return nil, fmt.Errorf("netclient: instance id is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	return &wsConn{
		gatewayURL: gatewayURL,
		handshake:  handshake,
		opts:       opts,
		logger:     logger.With("instance_id", opts.InstanceID),
		state:      ConnStateIdle,
	}, nil
}

type wsFrame struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	To       string   `json:"to,omitempty"`
	Text     string   `json:"text,omitempty"`
	Code     string   `json:"code,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	SelfID   string   `json:"self_id,omitempty"`
	Resume   string   `json:"resume_token,omitempty"`
	From     string   `json:"from,omitempty"`
	Author   string   `json:"author,omitempty"`
	Body     string   `json:"body,omitempty"`
	IsGroup  bool     `json:"is_group,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	SentAt   string   `json:"sent_at,omitempty"`
}

type wsConn struct {
	gatewayURL string
	handshake  time.Duration
	opts       DialOptions
	logger     *slog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	state  ConnState
	selfID string
	gen    uint64
	closed bool
}

func (c *wsConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.state = ConnStateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	endpoint, err := c.sessionURL()
	if err != nil {
		c.setState(ConnStateDisconnected)
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.handshake}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.setState(ConnStateDisconnected)
		return fmt.Errorf("netclient: dial gateway: %w", err)
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.mu.Unlock()

	go c.readPump(ws, gen)
	return nil
}

func (c *wsConn) sessionURL() (string, error) {
	u, err := url.Parse(c.gatewayURL)
	if err != nil {
		return "", fmt.Errorf("netclient: invalid gateway url: %w", err)
	}
	q := u.Query()
	q.Set("instance_id", c.opts.InstanceID)
	var session sessionRecord
	if ok, err := fsstore.ReadJSON(c.sessionPath(), &session); err == nil && ok && session.ResumeToken != "" {
		q.Set("resume_token", session.ResumeToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *wsConn) sessionPath() string {
	return filepath.Join(c.opts.SessionDir, sessionFilename)
}

func (c *wsConn) readPump(ws *websocket.Conn, gen uint64) {
	for {
		var frame wsFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if c.stale(gen) {
				return
			}
			c.setState(ConnStateDisconnected)
			c.logger.Debug("netclient_read_closed", "error", err.Error())
			if h := c.opts.Handlers.OnDisconnected; h != nil {
				h(err.Error())
			}
			return
		}
		if c.stale(gen) {
			return
		}
		c.dispatch(frame)
	}
}

func (c *wsConn) dispatch(frame wsFrame) {
	h := c.opts.Handlers
	switch frame.Type {
	case "qr":
		if h.OnQR != nil {
			h.OnQR(frame.Code)
		}
	case "authenticated":
		if token := strings.TrimSpace(frame.Resume); token != "" && c.opts.SessionDir != "" {
			record := sessionRecord{ResumeToken: token, IssuedAt: time.Now().UTC()}
			if err := fsstore.WriteJSONAtomic(c.sessionPath(), record, fsstore.FileOptions{}); err != nil {
				c.logger.Warn("netclient_session_write_error", "error", err.Error())
			}
		}
		if h.OnAuthenticated != nil {
			h.OnAuthenticated()
		}
	case "auth_failure":
		c.setState(ConnStateDisconnected)
		if h.OnAuthFailure != nil {
			h.OnAuthFailure(frame.Reason)
		}
	case "ready":
		c.mu.Lock()
		c.selfID = strings.TrimSpace(frame.SelfID)
		c.state = ConnStateConnected
		c.mu.Unlock()
		if h.OnReady != nil {
			h.OnReady()
		}
	case "disconnected":
		c.setState(ConnStateDisconnected)
		if h.OnDisconnected != nil {
			h.OnDisconnected(frame.Reason)
		}
	case "message":
		msg := Message{
			From:     frame.From,
			Author:   frame.Author,
			Body:     frame.Body,
			IsGroup:  frame.IsGroup,
			Mentions: frame.Mentions,
		}
		if ts, err := time.Parse(time.RFC3339, frame.SentAt); err == nil {
			msg.SentAt = ts
		} else {
			msg.SentAt = time.Now().UTC()
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	default:
		c.logger.Debug("netclient_frame_ignored", "type", frame.Type)
	}
}

func (c *wsConn) Send(ctx context.Context, to, text string) (string, error) {
	id := uuid.NewString()
	frame := wsFrame{Type: "send", ID: id, To: to, Text: text}
	if err := c.write(ctx, frame); err != nil {
		return "", err
	}
	return id, nil
}

func (c *wsConn) SendComposing(ctx context.Context, to string) error {
	return c.write(ctx, wsFrame{Type: "composing", To: to})
}

func (c *wsConn) write(ctx context.Context, frame wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.ws == nil || c.state != ConnStateConnected {
		return ErrNotConnected
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("netclient: write frame: %w", err)
	}
	return nil
}

func (c *wsConn) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *wsConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = ConnStateClosed
	c.gen++
	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err := c.ws.Close()
		c.ws = nil
		return err
	}
	return nil
}

func (c *wsConn) setState(s ConnState) {
	c.mu.Lock()
	if !c.closed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *wsConn) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || gen != c.gen
}
