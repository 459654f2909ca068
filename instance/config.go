// Package instance owns per-tenant configuration and the runtime lifecycle
// of each tenant's messaging-network connection.
package instance

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	ErrInvalidConfig  = errors.New("instance: invalid config")
	ErrNotFound       = errors.New("instance: not found")
	ErrConflict       = errors.New("instance: already exists")
	ErrNotInitialized = errors.New("instance: not initialized")
	ErrUnreachable    = errors.New("instance: workflow engine unreachable")
)

const (
	defaultCommandPrefix         = "!bot"
	defaultMaxConversationLength = 20
	defaultWorkflowTimeoutMS     = 15000
)

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9-_]+$`)

// WorkflowConfig points one instance at its remote workflow engine.
// Timeout is carried in milliseconds on the wire.
type WorkflowConfig struct {
	BaseURL      string `json:"baseUrl"`
	WebhookPath  string `json:"webhookPath"`
	APIKey       string `json:"apiKey,omitempty"`
	TimeoutMS    int    `json:"timeout,omitempty"`
	FallbackPath string `json:"fallbackPath,omitempty"`
}

func (c WorkflowConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return time.Duration(defaultWorkflowTimeoutMS) * time.Millisecond
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Options are per-instance message handling switches.
type Options struct {
	CommandPrefix         string `json:"commandPrefix"`
	ProcessSelfMessages   bool   `json:"processSelfMessages"`
	NotifyUnauthorized    bool   `json:"notifyUnauthorized"`
	MaxConversationLength int    `json:"maxConversationLength"`
	ShowTypingIndicator   bool   `json:"showTypingIndicator"`
	EnableAnalytics       bool   `json:"enableAnalytics"`
}

// Config is one tenant's durable configuration. InstanceID never changes
// after creation.
type Config struct {
	InstanceID    string         `json:"instanceId"`
	Name          string         `json:"name,omitempty"`
	Workflow      WorkflowConfig `json:"remoteWorkflowConfig"`
	AllowedUsers  []string       `json:"allowedUsers"`
	AllowedGroups []string       `json:"allowedGroups"`
	Options       Options        `json:"options"`
	Status        State          `json:"status"`
	Created       time.Time      `json:"created"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Normalize fills defaults in place.
func (c *Config) Normalize() {
	c.InstanceID = strings.TrimSpace(c.InstanceID)
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = c.InstanceID
	}
	c.Workflow.BaseURL = strings.TrimSpace(strings.TrimRight(c.Workflow.BaseURL, "/"))
	c.Workflow.WebhookPath = normalizePath(c.Workflow.WebhookPath)
	c.Workflow.FallbackPath = normalizePath(c.Workflow.FallbackPath)
	if c.Workflow.TimeoutMS <= 0 {
		c.Workflow.TimeoutMS = defaultWorkflowTimeoutMS
	}
	if strings.TrimSpace(c.Options.CommandPrefix) == "" {
		c.Options.CommandPrefix = defaultCommandPrefix
	}
	if c.Options.MaxConversationLength <= 0 {
		c.Options.MaxConversationLength = defaultMaxConversationLength
	}
	if c.AllowedUsers == nil {
		c.AllowedUsers = []string{}
	}
	if c.AllowedGroups == nil {
		c.AllowedGroups = []string{}
	}
}

// Validate checks the invariants an instance config must satisfy. Callers
// normalize first.
func (c Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("%w: instanceId is required", ErrInvalidConfig)
	}
	if !instanceIDPattern.MatchString(c.InstanceID) {
		return fmt.Errorf("%w: instanceId must match [A-Za-z0-9-_]+", ErrInvalidConfig)
	}
	if c.Workflow.BaseURL == "" {
		return fmt.Errorf("%w: remoteWorkflowConfig.baseUrl is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Workflow.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: remoteWorkflowConfig.baseUrl must be an http(s) url", ErrInvalidConfig)
	}
	if c.Workflow.WebhookPath == "" {
		return fmt.Errorf("%w: remoteWorkflowConfig.webhookPath is required", ErrInvalidConfig)
	}
	return nil
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
