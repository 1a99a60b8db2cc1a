package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mission-control/internal/auth"
	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/ratelimit"
	"github.com/ashita-ai/mission-control/internal/service/agents"
	"github.com/ashita-ai/mission-control/internal/service/approvals"
	"github.com/ashita-ai/mission-control/internal/service/auditlog"
	"github.com/ashita-ai/mission-control/internal/service/killswitch"
	"github.com/ashita-ai/mission-control/internal/service/notifications"
	"github.com/ashita-ai/mission-control/internal/service/settings"
	"github.com/ashita-ai/mission-control/internal/service/status"
	"github.com/ashita-ai/mission-control/internal/service/tasks"
)

// Server is the Mission Control HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Pinger reports store reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Broker, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Store         Pinger
	JWTMgr        *auth.JWTManager
	Keys          *auth.KeyRing
	KillSwitch    *killswitch.Service
	Audit         *auditlog.Service
	Approvals     *approvals.Service
	Agents        *agents.Service
	Settings      *settings.Service
	Status        *status.Service
	Tasks         *tasks.Service
	Notifications *notifications.Service
	Logger        *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	StoreKind           string // "postgres" or "sqlite", reported by /health
	MaxRequestBodyBytes int64

	// Identity and local enforcement.
	OperatorName   string
	KillSwitchPath string
	// AuthDisabled authenticates every request as the operator. Development only.
	AuthDisabled bool
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg)

	reqIDFunc := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}
	authRL := ratelimit.Middleware(cfg.Limiter, "auth", ratelimit.IPKeyFunc, reqIDFunc)
	writeRL := ratelimit.Middleware(cfg.Limiter, "write", agentKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	readRole := requireRole(model.RoleReader)
	agentRole := requireRole(model.RoleAgent)
	operatorRole := requireRole(model.RoleOperator)

	// Kill switch. Flipping it is an operator action.
	mux.Handle("GET /v1/kill-switch", readRole(http.HandlerFunc(h.HandleGetKillSwitch)))
	mux.Handle("PUT /v1/kill-switch", operatorRole(http.HandlerFunc(h.HandleSetKillSwitch)))
	mux.Handle("POST /v1/kill-switch/toggle", operatorRole(http.HandlerFunc(h.HandleToggleKillSwitch)))
	mux.Handle("POST /api/kill-switch/file", operatorRole(http.HandlerFunc(h.HandleKillSwitchFile)))

	// Audit log.
	mux.Handle("GET /v1/audit", readRole(http.HandlerFunc(h.HandleQueryAudit)))
	mux.Handle("POST /v1/audit", writeRL(agentRole(http.HandlerFunc(h.HandleAppendAudit))))
	mux.Handle("GET /v1/activity", readRole(http.HandlerFunc(h.HandleActivity)))

	// Approvals and the email queue.
	mux.Handle("GET /v1/approvals/pending", readRole(http.HandlerFunc(h.HandlePendingApprovals)))
	mux.Handle("GET /v1/approvals/history", readRole(http.HandlerFunc(h.HandleApprovalHistory)))
	mux.Handle("POST /v1/approvals/{email_id}/decision", operatorRole(http.HandlerFunc(h.HandleDecision)))
	mux.Handle("GET /v1/emails", readRole(http.HandlerFunc(h.HandleListEmails)))
	mux.Handle("POST /v1/emails", writeRL(agentRole(http.HandlerFunc(h.HandleEnqueueEmail))))

	// Agent registry.
	mux.Handle("GET /v1/agents", readRole(http.HandlerFunc(h.HandleListAgents)))
	mux.Handle("PUT /v1/agents/{name}/status", writeRL(agentRole(http.HandlerFunc(h.HandleSetAgentStatus))))

	// Settings and the status page.
	mux.Handle("GET /v1/settings", readRole(http.HandlerFunc(h.HandleListSettings)))
	mux.Handle("PUT /v1/settings", operatorRole(http.HandlerFunc(h.HandleUpdateSettings)))
	mux.Handle("GET /v1/status", readRole(http.HandlerFunc(h.HandleStatus)))

	// Task queue. Agents report their own work; the board is read-only.
	mux.Handle("GET /v1/tasks", readRole(http.HandlerFunc(h.HandleTaskBoard)))
	mux.Handle("POST /v1/tasks", writeRL(agentRole(http.HandlerFunc(h.HandleEnqueueTask))))
	mux.Handle("PATCH /v1/tasks/{id}", writeRL(agentRole(http.HandlerFunc(h.HandleTaskProgress))))

	// Notifications and reminders. Agents post; the operator reads and dismisses.
	mux.Handle("GET /v1/notifications", readRole(http.HandlerFunc(h.HandleInbox)))
	mux.Handle("POST /v1/notifications", writeRL(agentRole(http.HandlerFunc(h.HandlePostNotification))))
	mux.Handle("POST /v1/notifications/read-all", operatorRole(http.HandlerFunc(h.HandleMarkAllNotificationsRead)))
	mux.Handle("POST /v1/notifications/{id}/read", operatorRole(http.HandlerFunc(h.HandleMarkNotificationRead)))
	mux.Handle("POST /v1/notifications/{id}/dismiss", operatorRole(http.HandlerFunc(h.HandleDismissNotification)))
	mux.Handle("POST /v1/reminders", operatorRole(http.HandlerFunc(h.HandleCreateReminder)))

	// Subscription endpoint (reader+, no rate limit: long-lived connection).
	mux.Handle("GET /v1/subscribe", readRole(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (auth required, agent+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", agentRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	var devClaims *auth.Claims
	if cfg.AuthDisabled {
		devClaims = &auth.Claims{Name: cfg.OperatorName, Role: model.RoleOperator}
		cfg.Logger.Warn("authentication disabled, every request acts as the operator",
			"operator", cfg.OperatorName)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, devClaims, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// agentKeyFunc keys agent writes by caller name. Operators are exempt.
func agentKeyFunc(r *http.Request) string {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil || model.RoleAtLeast(claims.Role, model.RoleOperator) {
		return ""
	}
	return claims.Name
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
