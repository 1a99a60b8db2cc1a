package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/tasks"
)

// HandleTaskBoard handles GET /v1/tasks?agent=&status=&limit=.
func (h *Handlers) HandleTaskBoard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", tasks.DefaultListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	q := r.URL.Query()
	board, err := h.tasks.Board(r.Context(), model.TaskFilter{
		Agent:  q.Get("agent"),
		Status: model.TaskStatus(q.Get("status")),
	}, limit)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list tasks")
		return
	}
	writeJSON(w, r, http.StatusOK, board)
}

// HandleEnqueueTask handles POST /v1/tasks. The agent defaults to the
// caller; only operators may queue work for another agent.
func (h *Handlers) HandleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req model.EnqueueTaskRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	caller := ctxutil.ActorFromContext(r.Context())
	if req.Agent == "" {
		req.Agent = caller
	}
	if req.Agent != caller && !model.RoleAtLeast(ctxutil.RoleFromContext(r.Context()), model.RoleOperator) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "agents can only queue their own tasks")
		return
	}

	task, err := h.tasks.Enqueue(r.Context(), tasks.EnqueueInput{
		Agent:    req.Agent,
		TaskType: req.TaskType,
		Status:   req.Status,
		Payload:  req.Payload,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to queue task")
		return
	}
	writeJSON(w, r, http.StatusCreated, task)
}

// HandleTaskProgress handles PATCH /v1/tasks/{id}.
func (h *Handlers) HandleTaskProgress(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid task id")
		return
	}
	var req model.TaskProgressRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	task, err := h.tasks.Progress(r.Context(), tasks.ProgressInput{
		ID:       id,
		Status:   req.Status,
		Result:   req.Result,
		Actor:    ctxutil.ActorFromContext(r.Context()),
		AnyOwner: model.RoleAtLeast(ctxutil.RoleFromContext(r.Context()), model.RoleOperator),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to update task")
		return
	}
	writeJSON(w, r, http.StatusOK, task)
}
