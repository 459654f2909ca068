package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quailyquaily/peergate/bridge"
	"github.com/quailyquaily/peergate/instance"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response_encode_error", "error", err.Error())
	}
}

func (s *Server) writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain sentinels onto the HTTP taxonomy. Internal detail
// is suppressed outside debug builds.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrInvalidRecipient):
		s.writeErrorMessage(w, http.StatusBadRequest, "Invalid phone number format")
	case errors.Is(err, bridge.ErrMissingField):
		s.writeErrorMessage(w, http.StatusBadRequest, "to and message are required")
	case errors.Is(err, instance.ErrInvalidConfig), errors.Is(err, instance.ErrUnreachable):
		s.writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, instance.ErrNotFound):
		s.writeErrorMessage(w, http.StatusNotFound, "instance not found")
	case errors.Is(err, instance.ErrConflict):
		s.writeErrorMessage(w, http.StatusConflict, "instance already exists")
	case errors.Is(err, instance.ErrNotInitialized):
		s.writeErrorMessage(w, http.StatusServiceUnavailable, "instance not initialized")
	case errors.Is(err, bridge.ErrSendFailed):
		s.writeErrorMessage(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("internal_error", "error", err.Error())
		msg := "internal error"
		if s.debug {
			msg = err.Error()
		}
		s.writeErrorMessage(w, http.StatusInternalServerError, msg)
	}
}
