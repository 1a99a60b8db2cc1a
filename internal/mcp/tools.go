package mcp

import (
	"context"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mission-control/internal/auth"
	"github.com/ashita-ai/mission-control/internal/ctxutil"
	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/agents"
	"github.com/ashita-ai/mission-control/internal/service/auditlog"
)

func (s *Server) registerTools() {
	// mc_check_run_state: the gate every agent passes before acting.
	s.mcpServer.AddTool(
		mcplib.NewTool("mc_check_run_state",
			mcplib.WithDescription(`Check the kill switch before taking any action.

WHEN TO USE: At the start of every unit of work, and again before any
side effect that reaches the outside world (sending an email, posting a
message, calling a client API).

WHAT YOU GET BACK:
- run_state: the current status, who set it, when and why
- may_proceed: true only when the status is "running"
- provisioned: false when the switch was never set up; may_proceed is
  then false as well

If may_proceed is false, stop. Do not retry until a later check says otherwise.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleCheckRunState,
	)

	// mc_record_event: append to the audit log.
	s.mcpServer.AddTool(
		mcplib.NewTool("mc_record_event",
			mcplib.WithDescription(`Record something you did in the append-only audit log.

WHEN TO USE: After every governed action (email_sent, email_analyzed) and
after every scheduled job run, successful or not. Scheduled job actions
(e.g. daily_heartbeat, repo_sync) feed the status page. Kill switch,
approval, settings and agent status entries are written by Mission Control
itself and are refused here.

Entries are never edited. Record failures too, with status="failure" and
an error_message.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("action",
				mcplib.Description("What happened: email_sent, email_analyzed, or a scheduled job action."),
				mcplib.Required(),
			),
			mcplib.WithString("status",
				mcplib.Description("Outcome of the action"),
				mcplib.Enum(string(model.AuditSuccess), string(model.AuditFailure), string(model.AuditPending)),
				mcplib.DefaultString(string(model.AuditSuccess)),
			),
			mcplib.WithObject("details",
				mcplib.Description("Free-form JSON details: ids, recipients, counts"),
			),
			mcplib.WithNumber("duration_ms",
				mcplib.Description("How long the action took, in milliseconds"),
				mcplib.Min(0),
			),
			mcplib.WithString("error_message",
				mcplib.Description("Why the action failed, when status is failure"),
			),
			mcplib.WithString("agent",
				mcplib.Description("Agent name to record under. Defaults to your authenticated identity; only operators may record for another agent."),
			),
		),
		s.handleRecordEvent,
	)

	// mc_report_status: upsert own entry in the agent registry.
	s.mcpServer.AddTool(
		mcplib.NewTool("mc_report_status",
			mcplib.WithDescription(`Report your current status to the agent registry.

WHEN TO USE: When you start (online), while working (online with
current_task), when waiting (idle), when shutting down (offline) and when
you hit an error you cannot recover from (error). Status changes are
recorded in the audit log.`),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("status",
				mcplib.Description("Your status"),
				mcplib.Enum(string(model.AgentOnline), string(model.AgentIdle), string(model.AgentOffline), string(model.AgentError)),
				mcplib.Required(),
			),
			mcplib.WithString("current_task",
				mcplib.Description("Short description of what you are working on"),
			),
			mcplib.WithString("role",
				mcplib.Description("Your role, e.g. \"Client success\". Kept from the previous report when omitted."),
			),
		),
		s.handleReportStatus,
	)

	// mc_query_audit: filtered, paginated audit log read.
	s.mcpServer.AddTool(
		mcplib.NewTool("mc_query_audit",
			mcplib.WithDescription(`Read the audit log, newest first.

FILTER EXAMPLES:
- Everything one agent did: agent="Sophia CSM"
- Failures of any kind: q="failure"
- Kill switch history: q="kill_switch"

Counts in the response cover the returned page only.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("agent",
				mcplib.Description("Exact agent name"),
			),
			mcplib.WithString("q",
				mcplib.Description("Case-insensitive text matched against agent, action and status"),
			),
			mcplib.WithNumber("page",
				mcplib.Description("Zero-based page number"),
				mcplib.Min(0),
				mcplib.DefaultNumber(0),
			),
			mcplib.WithNumber("page_size",
				mcplib.Description("Entries per page"),
				mcplib.Min(1),
				mcplib.Max(auditlog.MaxPageSize),
				mcplib.DefaultNumber(auditlog.DefaultPageSize),
			),
		),
		s.handleQueryAudit,
	)
}

func (s *Server) handleCheckRunState(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	// A missing switch reads as stopped so that a half-provisioned
	// deployment never lets agents act.
	st, provisioned, err := s.killSwitch.GetOrDefault(ctx, model.RunStatusStopped)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to read run state: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"run_state":   st,
		"may_proceed": provisioned && st.Running(),
		"provisioned": provisioned,
	}), nil
}

func (s *Server) handleRecordEvent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return errorResult("authentication required"), nil
	}

	agent, res := resolveAgent(claims, request.GetString("agent", ""))
	if res != nil {
		return res, nil
	}

	e := model.AuditEntry{
		Agent:  agent,
		Action: model.AuditAction(request.GetString("action", "")),
		Status: model.AuditStatus(request.GetString("status", string(model.AuditSuccess))),
	}
	args := request.GetArguments()
	if d, ok := args["details"].(map[string]any); ok {
		e.Details = d
	}
	if _, ok := args["duration_ms"]; ok {
		ms := int64(request.GetFloat("duration_ms", 0))
		e.DurationMS = &ms
	}
	if msg := request.GetString("error_message", ""); msg != "" {
		e.ErrorMessage = &msg
	}

	entry, err := s.audit.RecordExternal(ctx, e)
	if err != nil {
		if errors.Is(err, auditlog.ErrInvalidInput) {
			return errorResult(err.Error()), nil
		}
		return errorResult(fmt.Sprintf("failed to record event: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"status": "recorded",
		"entry":  entry,
	}), nil
}

func (s *Server) handleReportStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return errorResult("authentication required"), nil
	}

	in := agents.StatusInput{
		Name:   claims.Name,
		Status: model.AgentStatus(request.GetString("status", "")),
		Role:   request.GetString("role", ""),
	}
	if task := request.GetString("current_task", ""); task != "" {
		in.CurrentTask = &task
	}

	change, err := s.agents.SetStatus(ctx, in)
	if err != nil {
		if errors.Is(err, agents.ErrInvalidInput) {
			return errorResult(err.Error()), nil
		}
		return errorResult(fmt.Sprintf("failed to report status: %v", err)), nil
	}
	out := map[string]any{
		"agent":   change.Agent,
		"changed": change.Changed,
	}
	if change.AuditErr != nil {
		out["audit_error"] = change.AuditErr.Error()
	}
	return jsonResult(out), nil
}

func (s *Server) handleQueryAudit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	page, err := s.audit.Query(ctx, model.AuditFilter{
		Agent: request.GetString("agent", ""),
		Text:  request.GetString("q", ""),
	}, request.GetInt("page", 0), request.GetInt("page_size", auditlog.DefaultPageSize))
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}
	return jsonResult(page), nil
}

// resolveAgent returns the agent an entry is recorded under. Callers below
// operator may only record for themselves.
func resolveAgent(claims *auth.Claims, requested string) (string, *mcplib.CallToolResult) {
	if requested == "" || requested == claims.Name {
		return claims.Name, nil
	}
	if !model.RoleAtLeast(claims.Role, model.RoleOperator) {
		return "", errorResult("agents can only record events under their own name")
	}
	return requested, nil
}
