package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/auditlog"
)

const (
	uriRunState = "mc://run-state"
	uriActivity = "mc://activity/recent"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriRunState,
			"Run State",
			mcplib.WithResourceDescription("The kill switch: whether agents may act, and who last set it"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRunStateResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriActivity,
			"Recent Activity",
			mcplib.WithResourceDescription("The most recent audit log entries across all agents"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActivityResource,
	)

	// mc://agent/{name}/activity: one agent's recent audit entries.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"mc://agent/{name}/activity",
			"Agent Activity",
			mcplib.WithTemplateDescription("Recent audit log entries recorded by one agent"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleAgentActivity,
	)
}

func (s *Server) handleRunStateResource(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	st, err := s.killSwitch.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: run state: %w", err)
	}
	return jsonContents(uriRunState, st)
}

func (s *Server) handleActivityResource(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	entries, err := s.audit.Recent(ctx, auditlog.DefaultRecentLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent activity: %w", err)
	}
	return jsonContents(uriActivity, entries)
}

func (s *Server) handleAgentActivity(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	name, err := parseAgentActivityURI(uri)
	if err != nil {
		return nil, err
	}
	page, err := s.audit.Query(ctx, model.AuditFilter{Agent: name}, 0, auditlog.DefaultRecentLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: agent activity: %w", err)
	}
	return jsonContents(uri, map[string]any{
		"agent":   name,
		"entries": page.Entries,
	})
}

// parseAgentActivityURI extracts the agent name from mc://agent/{name}/activity.
// Names may contain spaces, which arrive percent-encoded.
func parseAgentActivityURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "mc://agent/")
	if !ok {
		return "", fmt.Errorf("mcp: invalid agent activity URI: %s", uri)
	}
	name, ok := strings.CutSuffix(rest, "/activity")
	if !ok || name == "" {
		return "", fmt.Errorf("mcp: invalid agent activity URI: %s", uri)
	}
	decoded, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("mcp: invalid agent activity URI: %s", uri)
	}
	return decoded, nil
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
