package server

import (
	"net/http"

	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/auditlog"
)

// HandleQueryAudit handles GET /v1/audit?agent=&q=&page=&page_size=.
func (h *Handlers) HandleQueryAudit(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	pageSize, err := queryInt(r, "page_size", auditlog.DefaultPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	q := r.URL.Query()
	result, err := h.audit.Query(r.Context(), model.AuditFilter{
		Agent: q.Get("agent"),
		Text:  q.Get("q"),
	}, page, pageSize)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to query audit log")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleAppendAudit handles POST /v1/audit. The agent defaults to the caller;
// only operators may record under another name. Service-owned actions are
// refused with 400.
func (h *Handlers) HandleAppendAudit(w http.ResponseWriter, r *http.Request) {
	var req model.AppendAuditRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	caller := ctxutil.ActorFromContext(r.Context())
	if req.Agent == "" {
		req.Agent = caller
	}
	if req.Agent != caller && !model.RoleAtLeast(ctxutil.RoleFromContext(r.Context()), model.RoleOperator) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "agents can only record events under their own name")
		return
	}
	if req.Status == "" {
		req.Status = model.AuditSuccess
	}

	entry, err := h.audit.RecordExternal(r.Context(), model.AuditEntry{
		Agent:        req.Agent,
		Action:       req.Action,
		Details:      req.Details,
		Status:       req.Status,
		DurationMS:   req.DurationMS,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to append audit entry")
		return
	}
	writeJSON(w, r, http.StatusCreated, entry)
}

// HandleActivity handles GET /v1/activity?limit=.
func (h *Handlers) HandleActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", auditlog.DefaultRecentLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to read activity")
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}
