package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quailyquaily/peergate/instance"
)

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.manager.Config(id); err != nil {
		s.writeError(w, err)
		return
	}
	state := s.manager.GetState(id)
	switch state {
	case instance.StateConnected:
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "connected", "state": state})
	case instance.StateWaitingForQRScan:
		code, ok, err := s.manager.PairingCode(id)
		if err != nil || !ok {
			if err != nil {
				s.logger.Warn("pairing_code_read_error", "instance_id", id, "error", err.Error())
			}
			s.writeJSON(w, http.StatusOK, map[string]any{"status": "pending", "state": state})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "pending", "qrCode": code, "state": state})
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "initializing", "state": state})
	}
}

type webhookSendRequest struct {
	To      string          `json:"to"`
	Message string          `json:"message"`
	Options json.RawMessage `json:"options,omitempty"`
}

func (s *Server) handleWebhookSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req webhookSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	result, err := s.bridge.SendOutbound(r.Context(), id, req.To, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"messageId": result.MessageID,
		"timestamp": result.Timestamp.Format(time.RFC3339),
	})
}
