package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/approvals"
)

// HandlePendingApprovals handles GET /v1/approvals/pending.
func (h *Handlers) HandlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	emails, err := h.approvals.ListPending(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list pending approvals")
		return
	}
	writeJSON(w, r, http.StatusOK, emails)
}

// HandleApprovalHistory handles GET /v1/approvals/history?limit=.
func (h *Handlers) HandleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", approvals.DefaultHistoryLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	emails, err := h.approvals.History(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list approval history")
		return
	}
	writeJSON(w, r, http.StatusOK, emails)
}

// HandleDecision handles POST /v1/approvals/{email_id}/decision.
func (h *Handlers) HandleDecision(w http.ResponseWriter, r *http.Request) {
	emailID, err := uuid.Parse(r.PathValue("email_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid email_id")
		return
	}
	var req model.DecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	res, err := h.approvals.Decide(r.Context(), approvals.DecideInput{
		EmailID:  emailID,
		Decision: req.Decision,
		Actor:    ctxutil.ActorFromContext(r.Context()),
		Type:     req.Type,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to decide email")
		return
	}
	writeJSON(w, r, http.StatusOK, model.DecisionResponse{
		Email:      res.Email,
		Approval:   res.Approval,
		AuditEntry: res.Audit,
	})
}

// HandleListEmails handles GET /v1/emails?limit=.
func (h *Handlers) HandleListEmails(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", approvals.DefaultQueueLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	emails, err := h.approvals.ListQueue(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list emails")
		return
	}
	writeJSON(w, r, http.StatusOK, emails)
}

// HandleEnqueueEmail handles POST /v1/emails.
func (h *Handlers) HandleEnqueueEmail(w http.ResponseWriter, r *http.Request) {
	var req model.EnqueueEmailRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	email, err := h.approvals.Enqueue(r.Context(), model.Email{
		FromEmail:        req.FromEmail,
		ToEmail:          req.ToEmail,
		Subject:          req.Subject,
		Body:             req.Body,
		Client:           req.Client,
		Priority:         req.Priority,
		RequiresApproval: req.RequiresApproval,
		Analysis:         req.Analysis,
		Status:           req.Status,
		ReceivedAt:       req.ReceivedAt,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to enqueue email")
		return
	}
	writeJSON(w, r, http.StatusCreated, email)
}
