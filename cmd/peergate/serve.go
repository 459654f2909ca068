package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/peergate/bridge"
	"github.com/quailyquaily/peergate/conversation"
	"github.com/quailyquaily/peergate/instance"
	"github.com/quailyquaily/peergate/internal/analytics"
	"github.com/quailyquaily/peergate/internal/fsstore"
	"github.com/quailyquaily/peergate/internal/httpapi"
	"github.com/quailyquaily/peergate/internal/logutil"
	"github.com/quailyquaily/peergate/internal/secretbox"
	"github.com/quailyquaily/peergate/internal/statepaths"
	"github.com/quailyquaily/peergate/netclient"
	"github.com/quailyquaily/peergate/wfengine"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge: instance manager, message router, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			adminKey := strings.TrimSpace(viper.GetString("server.admin_api_key"))
			apiKey := strings.TrimSpace(viper.GetString("server.api_key"))
			if adminKey == "" || apiKey == "" {
				return fmt.Errorf("missing server.admin_api_key or server.api_key (set via config or %s_SERVER_ADMIN_API_KEY / %s_SERVER_API_KEY)", envPrefix, envPrefix)
			}

			sealer, err := secretbox.New(viper.GetString("storage.secret"))
			if err != nil {
				return fmt.Errorf("storage secret: %w", err)
			}
			if sealer == nil {
				logger.Warn("storage_secret_missing", "detail", "configs and conversations are stored in plaintext")
			}

			configStore := instance.NewStore(statepaths.InstancesDir(), sealer)
			conversationStore := conversation.NewStore(statepaths.ConversationsDir(), sealer)

			engine := wfengine.NewClient()
			pipeline := wfengine.NewPipeline(engine, logger, viper.GetString("workflow.fallback_model"))

			var journal *fsstore.JSONLWriter
			if viper.GetBool("analytics.journal") {
				journal, err = fsstore.NewJSONLWriter(filepath.Join(statepaths.AnalyticsDir(), "events.jsonl"), fsstore.FileOptions{})
				if err != nil {
					return fmt.Errorf("analytics journal: %w", err)
				}
			}
			analyticsQueue := analytics.NewQueue(analytics.Options{
				Logger:    logger,
				Endpoint:  strings.TrimSpace(viper.GetString("analytics.endpoint")),
				QueueSize: viper.GetInt("analytics.queue_size"),
				Journal:   journal,
			})
			defer analyticsQueue.Close()

			dialer := &netclient.WSDialer{
				GatewayURL: flagOrViperString(cmd, "gateway-url", "network.gateway_url"),
				Logger:     logger,
			}
			manager := instance.NewManager(instance.ManagerOptions{
				Logger:         logger,
				Store:          configStore,
				Dialer:         dialer,
				Engine:         engine,
				SessionsDir:    statepaths.SessionsDir(),
				ReconnectDelay: viper.GetDuration("network.reconnect_delay"),
				QueueSize:      viper.GetInt("network.queue_size"),
				MaxConcurrency: viper.GetInt("network.max_concurrency"),
			})
			router := bridge.NewRouter(logger, manager, conversationStore, pipeline, analyticsQueue)
			manager.SetInboundHandler(router.HandleInbound)

			rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager.InitAll(rootCtx)

			bind := strings.TrimSpace(flagOrViperString(cmd, "server-bind", "server.bind"))
			if bind == "" {
				bind = "127.0.0.1"
			}
			port := flagOrViperInt(cmd, "server-port", "server.port")
			if port <= 0 {
				port = 8787
			}

			api := httpapi.New(httpapi.Options{
				Logger:    logger,
				Manager:   manager,
				Router:    router,
				AdminKey:  adminKey,
				APIKey:    apiKey,
				PublicURL: viper.GetString("server.public_url"),
				Version:   version,
				Debug:     viper.GetBool("server.debug"),
			})
			addr := fmt.Sprintf("%s:%d", bind, port)
			server := &http.Server{
				Addr:              addr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server_listening", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				manager.Shutdown(context.Background())
				return err
			case <-rootCtx.Done():
			}

			logger.Info("server_shutting_down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server_shutdown_error", "error", err.Error())
			}
			manager.Shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().String("server-bind", "", "Bind address (default 127.0.0.1).")
	cmd.Flags().Int("server-port", 0, "Listen port (default 8787).")
	cmd.Flags().String("gateway-url", "", "Messaging network gateway websocket URL.")
	return cmd
}
