package instance

import (
	"errors"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		InstanceID: "bot1",
		Workflow: WorkflowConfig{
			BaseURL:     "http://engine.local:5678",
			WebhookPath: "/webhook/bot1",
		},
	}
}

func TestConfigNormalizeDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Workflow.BaseURL = "http://engine.local:5678/"
	cfg.Workflow.WebhookPath = "webhook/bot1"
	cfg.Normalize()

	if cfg.Name != "bot1" {
		t.Fatalf("Name = %q, want instance id", cfg.Name)
	}
	if cfg.Workflow.BaseURL != "http://engine.local:5678" {
		t.Fatalf("BaseURL = %q, trailing slash not trimmed", cfg.Workflow.BaseURL)
	}
	if cfg.Workflow.WebhookPath != "/webhook/bot1" {
		t.Fatalf("WebhookPath = %q, leading slash not added", cfg.Workflow.WebhookPath)
	}
	if got := cfg.Workflow.Timeout(); got != 15*time.Second {
		t.Fatalf("Timeout() = %v, want 15s default", got)
	}
	if cfg.Options.CommandPrefix == "" {
		t.Fatalf("command prefix default missing")
	}
	if cfg.Options.MaxConversationLength != 20 {
		t.Fatalf("MaxConversationLength = %d, want 20", cfg.Options.MaxConversationLength)
	}
	if cfg.AllowedUsers == nil || cfg.AllowedGroups == nil {
		t.Fatalf("allowlists not initialized")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty id", mutate: func(c *Config) { c.InstanceID = "" }},
		{name: "bad id chars", mutate: func(c *Config) { c.InstanceID = "bot 1!" }},
		{name: "missing base url", mutate: func(c *Config) { c.Workflow.BaseURL = "" }},
		{name: "non-http base url", mutate: func(c *Config) { c.Workflow.BaseURL = "ftp://x" }},
		{name: "missing webhook path", mutate: func(c *Config) { c.Workflow.WebhookPath = "" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			cfg.Normalize()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	cfg := validConfig()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v for valid config", err)
	}
}
