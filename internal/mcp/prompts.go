package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// before-acting walks the agent through the kill switch check.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("before-acting",
			mcplib.WithPromptDescription("Check the kill switch before taking an action"),
			mcplib.WithArgument("action",
				mcplib.ArgumentDescription("The action you are about to take (e.g. email_sent)"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleBeforeActingPrompt,
	)

	// agent-setup: system prompt snippet explaining the coordination contract.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining how agents coordinate with Mission Control"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleBeforeActingPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	action := request.Params.Arguments["action"]
	if action == "" {
		return nil, fmt.Errorf("action argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Check the kill switch before %s", action),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Before performing %s:

1. CALL mc_check_run_state.

2. If may_proceed is false, STOP. Do not perform %s. Report status
   "idle" with mc_report_status and wait for a later check.

3. If may_proceed is true, perform the action.

4. RECORD the outcome with mc_record_event, action="%s",
   status="success" or status="failure" with an error_message.`, action, action, action),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Mission Control coordination contract for agents",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You are one of several automation agents supervised by a human operator
through Mission Control.

## The Contract

1. Check the kill switch (mc_check_run_state) before every unit of work.
   When it says stop, you stop. No exceptions, no "just finishing up".
2. Record what you did (mc_record_event). The audit log is append-only
   and is how the operator reconstructs what happened.
3. Keep your status current (mc_report_status): online while working,
   idle while waiting, offline on shutdown, error when stuck.
4. Emails that need human review go to the approval queue. Never send a
   held email yourself; the operator's decision is recorded for you.

## Available Tools

- mc_check_run_state: may I act right now?
- mc_record_event: append an audit entry
- mc_report_status: update your registry entry
- mc_query_audit: read the audit log (filter by agent or text)`,
				},
			},
		},
	}, nil
}
