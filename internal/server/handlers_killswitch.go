package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/flag"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/killswitch"
)

// HandleGetKillSwitch handles GET /v1/kill-switch.
func (h *Handlers) HandleGetKillSwitch(w http.ResponseWriter, r *http.Request) {
	st, err := h.killSwitch.Get(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "failed to read kill switch")
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// HandleSetKillSwitch handles PUT /v1/kill-switch.
func (h *Handlers) HandleSetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req model.SetRunStateRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if _, err := model.ParseRunStatus(string(req.Status)); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	t, err := h.killSwitch.Set(r.Context(), req.Status, ctxutil.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to set kill switch")
		return
	}
	writeJSON(w, r, http.StatusOK, transitionResponse(t))
}

// HandleToggleKillSwitch handles POST /v1/kill-switch/toggle. The body is optional.
func (h *Handlers) HandleToggleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req model.ToggleRunStateRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, errEmptyBody) {
		handleDecodeError(w, r, err)
		return
	}

	t, err := h.killSwitch.Toggle(r.Context(), ctxutil.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to toggle kill switch")
		return
	}
	writeJSON(w, r, http.StatusOK, transitionResponse(t))
}

// HandleKillSwitchFile handles POST /api/kill-switch/file. It writes the
// flag word to the local file agents poll; the stored run state is not
// touched.
func (h *Handlers) HandleKillSwitchFile(w http.ResponseWriter, r *http.Request) {
	var req model.FileFlagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	st, err := model.ParseFlagValue(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	path := h.killSwitchPath
	if path == "" {
		path, err = h.settings.String(r.Context(), model.SettingKillSwitchPath)
		if err != nil {
			h.writeServiceError(w, r, err, "failed to read settings")
			return
		}
	}
	if path == "" {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "kill switch file path not configured")
		return
	}

	if err := flag.WriteFile(path, req.Status); err != nil {
		h.logger.Error("kill switch file write failed", "path", path, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to write kill switch file")
		return
	}
	h.logger.Info("kill switch file written", "path", path, "status", st,
		"actor", ctxutil.ActorFromContext(r.Context()))
	writeJSON(w, r, http.StatusOK, map[string]string{"path": path, "status": req.Status})
}

func transitionResponse(t killswitch.Transition) model.TransitionResponse {
	resp := model.TransitionResponse{
		RunState:   t.State,
		Previous:   t.Previous,
		AuditEntry: t.Audit,
	}
	if t.AuditErr != nil {
		resp.AuditError = t.AuditErr.Error()
	}
	return resp
}
