package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type defaultConfig struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Server struct {
		Bind        string `yaml:"bind"`
		Port        int    `yaml:"port"`
		PublicURL   string `yaml:"public_url"`
		AdminAPIKey string `yaml:"admin_api_key"`
		APIKey      string `yaml:"api_key"`
	} `yaml:"server"`
	Network struct {
		GatewayURL     string `yaml:"gateway_url"`
		ReconnectDelay string `yaml:"reconnect_delay"`
		MaxConcurrency int    `yaml:"max_concurrency"`
		QueueSize      int    `yaml:"queue_size"`
	} `yaml:"network"`
	Storage struct {
		Secret string `yaml:"secret"`
	} `yaml:"storage"`
	Workflow struct {
		FallbackModel string `yaml:"fallback_model"`
	} `yaml:"workflow"`
	Analytics struct {
		Endpoint  string `yaml:"endpoint"`
		QueueSize int    `yaml:"queue_size"`
		Journal   bool   `yaml:"journal"`
	} `yaml:"analytics"`
	FileStateDir string `yaml:"file_state_dir"`
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default config.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := defaultConfigDir()
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = args[0]
			}
			dir = filepath.Clean(dir)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			cfgPath := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}

			var cfg defaultConfig
			cfg.Logging.Level = "info"
			cfg.Logging.Format = "text"
			cfg.Server.Bind = "127.0.0.1"
			cfg.Server.Port = 8787
			cfg.Network.GatewayURL = "ws://127.0.0.1:8799/session"
			cfg.Network.ReconnectDelay = "5s"
			cfg.Network.MaxConcurrency = 8
			cfg.Network.QueueSize = 64
			cfg.Workflow.FallbackModel = "llama3"
			cfg.Analytics.QueueSize = 256
			cfg.FileStateDir = dir

			body, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, body, 0o600); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "set server.admin_api_key, server.api_key, and storage.secret before serving")
			return nil
		},
	}
	return cmd
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".peergate"
	}
	return filepath.Join(home, ".peergate")
}
