// Package httpapi hosts the admin and webhook HTTP surface of the bridge.
package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quailyquaily/peergate/bridge"
	"github.com/quailyquaily/peergate/instance"
)

type Options struct {
	Logger    *slog.Logger
	Manager   *instance.Manager
	Router    *bridge.Router
	AdminKey  string
	APIKey    string
	PublicURL string
	Version   string
	Debug     bool
}

type Server struct {
	logger    *slog.Logger
	manager   *instance.Manager
	bridge    *bridge.Router
	adminKey  string
	apiKey    string
	publicURL string
	version   string
	debug     bool
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:    logger,
		manager:   opts.Manager,
		bridge:    opts.Router,
		adminKey:  strings.TrimSpace(opts.AdminKey),
		apiKey:    strings.TrimSpace(opts.APIKey),
		publicURL: strings.TrimRight(strings.TrimSpace(opts.PublicURL), "/"),
		version:   opts.Version,
		debug:     opts.Debug,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/api/admin/instances", func(r chi.Router) {
		r.Use(s.requireKey("X-Admin-Api-Key", s.adminKey))
		r.Post("/", s.handleCreateInstance)
		r.Get("/", s.handleListInstances)
		r.Get("/{id}", s.handleGetInstance)
		r.Put("/{id}", s.handleUpdateInstance)
		r.Delete("/{id}", s.handleDeleteInstance)
		r.Post("/{id}/restart", s.handleRestartInstance)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireKey("X-Api-Key", s.apiKey))
		r.Get("/api/instances/{id}/qr", s.handleQR)
		r.Post("/api/webhook/{id}", s.handleWebhookSend)
	})

	return r
}

// requireKey validates a credential header by constant-time exact match. An
// unconfigured secret fails closed.
func (s *Server) requireKey(header, want string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.Header.Get(header))
			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				s.writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"version": s.version})
}

func (s *Server) webhookURL(instanceID string) string {
	base := s.publicURL
	if base == "" {
		base = "http://localhost:8787"
	}
	return base + "/api/webhook/" + instanceID
}
