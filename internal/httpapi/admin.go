package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quailyquaily/peergate/instance"
)

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var cfg instance.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := s.manager.Create(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"instanceId": created.InstanceID,
		"status":     created.Status,
		"webhookUrl": s.webhookURL(created.InstanceID),
	})
}

type instanceSummary struct {
	InstanceID string         `json:"instanceId"`
	Name       string         `json:"name"`
	Status     instance.State `json:"status"`
	State      instance.State `json:"state"`
	Created    string         `json:"created,omitempty"`
	UpdatedAt  string         `json:"updatedAt,omitempty"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	cfgs := s.manager.Configs()
	out := make([]instanceSummary, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, instanceSummary{
			InstanceID: cfg.InstanceID,
			Name:       cfg.Name,
			Status:     cfg.Status,
			State:      s.manager.GetState(cfg.InstanceID),
			Created:    cfg.Created.Format(timeLayout),
			UpdatedAt:  cfg.UpdatedAt.Format(timeLayout),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instances": out})
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, err := s.manager.Config(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"instance": cfg,
		"state":    s.manager.GetState(id),
	})
}

func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var cfg instance.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}
	updated, err := s.manager.UpdateConfig(r.Context(), id, cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"instance": updated,
		"state":    s.manager.GetState(id),
	})
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instanceId": id, "deleted": true})
}

func (s *Server) handleRestartInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Restart(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"instanceId": id,
		"state":      s.manager.GetState(id),
	})
}
