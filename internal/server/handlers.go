package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/mission-control/internal/auth"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/agents"
	"github.com/ashita-ai/mission-control/internal/service/approvals"
	"github.com/ashita-ai/mission-control/internal/service/auditlog"
	"github.com/ashita-ai/mission-control/internal/service/killswitch"
	"github.com/ashita-ai/mission-control/internal/service/notifications"
	"github.com/ashita-ai/mission-control/internal/service/settings"
	"github.com/ashita-ai/mission-control/internal/service/status"
	"github.com/ashita-ai/mission-control/internal/service/tasks"
	"github.com/ashita-ai/mission-control/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store               Pinger
	jwtMgr              *auth.JWTManager
	keys                *auth.KeyRing
	killSwitch          *killswitch.Service
	audit               *auditlog.Service
	approvals           *approvals.Service
	agents              *agents.Service
	settings            *settings.Service
	status              *status.Service
	tasks               *tasks.Service
	notifications       *notifications.Service
	broker              *Broker
	logger              *slog.Logger
	version             string
	storeKind           string
	operatorName        string
	killSwitchPath      string
	maxRequestBodyBytes int64
	startedAt           time.Time
}

// NewHandlers creates a new Handlers from the server configuration.
func NewHandlers(cfg ServerConfig) *Handlers {
	maxBody := cfg.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 * 1024 * 1024
	}
	return &Handlers{
		store:               cfg.Store,
		jwtMgr:              cfg.JWTMgr,
		keys:                cfg.Keys,
		killSwitch:          cfg.KillSwitch,
		audit:               cfg.Audit,
		approvals:           cfg.Approvals,
		agents:              cfg.Agents,
		settings:            cfg.Settings,
		status:              cfg.Status,
		tasks:               cfg.Tasks,
		notifications:       cfg.Notifications,
		broker:              cfg.Broker,
		logger:              cfg.Logger,
		version:             cfg.Version,
		storeKind:           cfg.StoreKind,
		operatorName:        cfg.OperatorName,
		killSwitchPath:      cfg.KillSwitchPath,
		maxRequestBodyBytes: maxBody,
		startedAt:           time.Now(),
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	role, err := h.keys.Authenticate(req.APIKey)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Error("api key verification failed", "error", err)
		}
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	// The operator key always stands for the configured operator, so
	// audit entries carry a stable human name.
	name := req.Name
	if role == model.RoleOperator && name == "" {
		name = h.operatorName
	}
	if err := model.ValidateAgentName(name); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(name, role)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleSubscribe handles GET /v1/subscribe (SSE).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"SSE not available (change notifications not configured)")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Idle SSE connections would otherwise be cut by the server's WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Store:   "connected",
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Store = "disconnected"
		resp.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else if st, err := h.killSwitch.Get(r.Context()); err == nil {
		resp.RunState = string(st.Status)
	} else {
		// An unprovisioned kill switch leaves agents without a state to check.
		resp.Status = "degraded"
	}
	if h.storeKind != "" && resp.Store == "connected" {
		resp.Store = h.storeKind
	}

	writeJSON(w, r, httpStatus, resp)
}

// writeServiceError maps service and storage errors onto API errors.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var partial *approvals.PartialDecisionError
	switch {
	case errors.As(err, &partial):
		details := map[string]any{"failed_step": partial.Step, "email": partial.Email}
		if partial.Approval != nil {
			details["approval"] = partial.Approval
		}
		writeErrorDetails(w, r, http.StatusInternalServerError, model.ErrCodePartialFailure, partial.Error(), details)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, msg+": not found")
	case errors.Is(err, tasks.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, err.Error())
	case errors.Is(err, approvals.ErrNotAwaitingApproval),
		errors.Is(err, notifications.ErrDismissed),
		errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, killswitch.ErrInvalidInput),
		errors.Is(err, auditlog.ErrInvalidInput),
		errors.Is(err, approvals.ErrInvalidInput),
		errors.Is(err, agents.ErrInvalidInput),
		errors.Is(err, settings.ErrInvalidInput),
		errors.Is(err, tasks.ErrInvalidInput),
		errors.Is(err, notifications.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	default:
		h.logger.Error(msg, "error", err, "path", r.URL.Path)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
	}
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
