package server

import (
	"net/http"

	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/agents"
)

// HandleListAgents handles GET /v1/agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	list, err := h.agents.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list agents")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AgentsResponse{
		Agents: list,
		Online: model.CountByStatus(list, model.AgentOnline),
		Total:  len(list),
	})
}

// HandleSetAgentStatus handles PUT /v1/agents/{name}/status. Agents may
// only report for themselves; operators may set any agent.
func (h *Handlers) HandleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	role := ctxutil.RoleFromContext(r.Context())
	if !model.RoleAtLeast(role, model.RoleOperator) && name != ctxutil.ActorFromContext(r.Context()) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "agents may only report their own status")
		return
	}

	var req model.AgentStatusRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	change, err := h.agents.SetStatus(r.Context(), agents.StatusInput{
		Name:        name,
		Status:      req.Status,
		CurrentTask: req.CurrentTask,
		Role:        req.Role,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to set agent status")
		return
	}

	resp := map[string]any{
		"agent":   change.Agent,
		"changed": change.Changed,
	}
	if change.Previous != "" {
		resp["previous_status"] = change.Previous
	}
	if change.Audit != nil {
		resp["audit_entry"] = change.Audit
	}
	if change.AuditErr != nil {
		resp["audit_error"] = change.AuditErr.Error()
	}
	writeJSON(w, r, http.StatusOK, resp)
}
