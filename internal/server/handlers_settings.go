package server

import (
	"net/http"

	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
)

// HandleListSettings handles GET /v1/settings.
func (h *Handlers) HandleListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.settings.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list settings")
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

// HandleUpdateSettings handles PUT /v1/settings.
func (h *Handlers) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateSettingsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	res, err := h.settings.Update(r.Context(), req.Settings, ctxutil.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err, "failed to update settings")
		return
	}
	resp := map[string]any{"settings": res.Settings}
	if res.AuditErr != nil {
		resp["audit_error"] = res.AuditErr.Error()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleStatus handles GET /v1/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	page, err := h.status.Page(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "failed to build status page")
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}
