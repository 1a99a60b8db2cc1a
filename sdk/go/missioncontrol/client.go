package missioncontrol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the server (e.g. "http://localhost:8080").
	BaseURL string

	// Name identifies the caller. Agents must set it; operators may leave
	// it empty to act under the server's configured operator name.
	Name string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Mission Control API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missioncontrol: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missioncontrol: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.Name, cfg.APIKey, httpClient),
	}, nil
}

// Health reports server health. It does not authenticate.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("missioncontrol: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("missioncontrol: GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var h Health
	if err := handleResponse(resp, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ---------------------------------------------------------------------------
// Kill switch
// ---------------------------------------------------------------------------

// RunState returns the kill switch.
func (c *Client) RunState(ctx context.Context) (*RunState, error) {
	var rs RunState
	if err := c.get(ctx, "/v1/kill-switch", &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// MayProceed reports whether agents may act right now. Any error, including
// an unprovisioned switch, means no.
func (c *Client) MayProceed(ctx context.Context) (bool, error) {
	rs, err := c.RunState(ctx)
	if err != nil {
		return false, err
	}
	return rs.Running(), nil
}

// SetRunState sets the kill switch. Operators only.
func (c *Client) SetRunState(ctx context.Context, status, reason string) (*Transition, error) {
	body := map[string]string{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	var t Transition
	if err := c.put(ctx, "/v1/kill-switch", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Stop halts all agents.
func (c *Client) Stop(ctx context.Context, reason string) (*Transition, error) {
	return c.SetRunState(ctx, StatusStopped, reason)
}

// Resume lets agents act again.
func (c *Client) Resume(ctx context.Context, reason string) (*Transition, error) {
	return c.SetRunState(ctx, StatusRunning, reason)
}

// Toggle flips the kill switch. An empty reason uses the server default.
func (c *Client) Toggle(ctx context.Context, reason string) (*Transition, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	var t Transition
	if err := c.post(ctx, "/v1/kill-switch/toggle", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// WriteFlagFile asks the server to write FlagStop or FlagRunning to its
// local flag file. The stored run state is unchanged.
func (c *Client) WriteFlagFile(ctx context.Context, word string) (*FlagFileResult, error) {
	var res FlagFileResult
	if err := c.post(ctx, "/api/kill-switch/file", map[string]string{"status": word}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ---------------------------------------------------------------------------
// Audit log
// ---------------------------------------------------------------------------

// RecordEvent appends an audit entry.
func (c *Client) RecordEvent(ctx context.Context, req RecordEventRequest) (*AuditEntry, error) {
	var e AuditEntry
	if err := c.post(ctx, "/v1/audit", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// QueryAudit returns one page of the audit log, newest first.
func (c *Client) QueryAudit(ctx context.Context, q *AuditQuery) (*AuditPage, error) {
	params := url.Values{}
	if q != nil {
		if q.Agent != "" {
			params.Set("agent", q.Agent)
		}
		if q.Text != "" {
			params.Set("q", q.Text)
		}
		if q.Page > 0 {
			params.Set("page", strconv.Itoa(q.Page))
		}
		if q.PageSize > 0 {
			params.Set("page_size", strconv.Itoa(q.PageSize))
		}
	}
	var p AuditPage
	if err := c.get(ctx, withQuery("/v1/audit", params), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Activity returns the most recent audit entries. A zero limit uses the
// server default.
func (c *Client) Activity(ctx context.Context, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	if err := c.get(ctx, withQuery("/v1/activity", limitParam(limit)), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// Approvals and the email queue
// ---------------------------------------------------------------------------

// PendingApprovals returns emails awaiting a decision.
func (c *Client) PendingApprovals(ctx context.Context) ([]Email, error) {
	var emails []Email
	if err := c.get(ctx, "/v1/approvals/pending", &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// ApprovalHistory returns decided emails, newest first.
func (c *Client) ApprovalHistory(ctx context.Context, limit int) ([]Email, error) {
	var emails []Email
	if err := c.get(ctx, withQuery("/v1/approvals/history", limitParam(limit)), &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// Decide approves or rejects a held email. approvalType may be empty
// (routine_response) or "escalation". A decision that stopped part way
// returns an *Error readable with AsPartialFailure.
func (c *Client) Decide(ctx context.Context, emailID uuid.UUID, decision, approvalType string) (*DecisionResult, error) {
	body := map[string]string{"decision": decision}
	if approvalType != "" {
		body["type"] = approvalType
	}
	var res DecisionResult
	if err := c.post(ctx, "/v1/approvals/"+emailID.String()+"/decision", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Approve approves a held email.
func (c *Client) Approve(ctx context.Context, emailID uuid.UUID) (*DecisionResult, error) {
	return c.Decide(ctx, emailID, DecisionApproved, "")
}

// Reject rejects a held email.
func (c *Client) Reject(ctx context.Context, emailID uuid.UUID) (*DecisionResult, error) {
	return c.Decide(ctx, emailID, DecisionRejected, "")
}

// Emails returns the most recent queue rows in any status.
func (c *Client) Emails(ctx context.Context, limit int) ([]Email, error) {
	var emails []Email
	if err := c.get(ctx, withQuery("/v1/emails", limitParam(limit)), &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// EnqueueEmail adds an email to the queue.
func (c *Client) EnqueueEmail(ctx context.Context, req EnqueueEmailRequest) (*Email, error) {
	var e Email
	if err := c.post(ctx, "/v1/emails", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ---------------------------------------------------------------------------
// Agents, settings and status
// ---------------------------------------------------------------------------

// Agents returns the registry.
func (c *Client) Agents(ctx context.Context) (*AgentList, error) {
	var list AgentList
	if err := c.get(ctx, "/v1/agents", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// SetAgentStatus reports an agent's status. Agents may only report for
// themselves.
func (c *Client) SetAgentStatus(ctx context.Context, name string, req AgentStatusRequest) (*AgentStatusChange, error) {
	var change AgentStatusChange
	if err := c.put(ctx, "/v1/agents/"+url.PathEscape(name)+"/status", req, &change); err != nil {
		return nil, err
	}
	return &change, nil
}

// Settings lists the system configuration.
func (c *Client) Settings(ctx context.Context) ([]Setting, error) {
	var list []Setting
	if err := c.get(ctx, "/v1/settings", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateSettings upserts the given keys. Values are marshaled to JSON.
func (c *Client) UpdateSettings(ctx context.Context, values map[string]any) ([]Setting, error) {
	raw := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("missioncontrol: marshal setting %q: %w", k, err)
		}
		raw[k] = b
	}
	var resp struct {
		Settings []Setting `json:"settings"`
	}
	if err := c.put(ctx, "/v1/settings", map[string]any{"settings": raw}, &resp); err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// Status returns the status page.
func (c *Client) Status(ctx context.Context) (*StatusPage, error) {
	var p StatusPage
	if err := c.get(ctx, "/v1/status", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// Tasks and notifications
// ---------------------------------------------------------------------------

// Tasks returns the task board.
func (c *Client) Tasks(ctx context.Context, q *TaskQuery) (*TaskBoard, error) {
	params := url.Values{}
	if q != nil {
		if q.Agent != "" {
			params.Set("agent", q.Agent)
		}
		if q.Status != "" {
			params.Set("status", q.Status)
		}
		if q.Limit > 0 {
			params.Set("limit", strconv.Itoa(q.Limit))
		}
	}
	var b TaskBoard
	if err := c.get(ctx, withQuery("/v1/tasks", params), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// EnqueueTask puts a task on the queue.
func (c *Client) EnqueueTask(ctx context.Context, req EnqueueTaskRequest) (*Task, error) {
	var t Task
	if err := c.post(ctx, "/v1/tasks", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ReportTask moves a task to status. A nil result keeps the stored one.
func (c *Client) ReportTask(ctx context.Context, id uuid.UUID, status string, result map[string]any) (*Task, error) {
	body := map[string]any{"status": status}
	if result != nil {
		body["result"] = result
	}
	var t Task
	if err := c.send(ctx, http.MethodPatch, "/v1/tasks/"+id.String(), body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Notifications lists the inbox. Dismissed notifications are never listed.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int) (*Inbox, error) {
	params := limitParam(limit)
	if unreadOnly {
		if params == nil {
			params = url.Values{}
		}
		params.Set("unread", "true")
	}
	var box Inbox
	if err := c.get(ctx, withQuery("/v1/notifications", params), &box); err != nil {
		return nil, err
	}
	return &box, nil
}

// Notify posts a notification to the operator's inbox.
func (c *Client) Notify(ctx context.Context, req NotificationRequest) (*Notification, error) {
	var n Notification
	if err := c.post(ctx, "/v1/notifications", req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkRead marks a notification read. Requires the operator role.
func (c *Client) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	var n Notification
	if err := c.post(ctx, "/v1/notifications/"+id.String()+"/read", nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Dismiss hides a notification. Requires the operator role.
func (c *Client) Dismiss(ctx context.Context, id uuid.UUID) (*Notification, error) {
	var n Notification
	if err := c.post(ctx, "/v1/notifications/"+id.String()+"/dismiss", nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkAllRead marks every unread notification read and returns how many
// changed.
func (c *Client) MarkAllRead(ctx context.Context) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	if err := c.post(ctx, "/v1/notifications/read-all", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

// Remind sets a reminder for the operator. A nil due is omitted.
func (c *Client) Remind(ctx context.Context, title, body string, due *time.Time) (*Notification, error) {
	req := map[string]any{"title": title}
	if body != "" {
		req["body"] = body
	}
	if due != nil {
		req["due"] = due.UTC()
	}
	var n Notification
	if err := c.post(ctx, "/v1/reminders", req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Subscribe streams change notifications until ctx is cancelled or the
// server closes the stream. The returned channel is closed on exit.
func (c *Client) Subscribe(ctx context.Context) (<-chan Event, error) {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/subscribe", nil)
	if err != nil {
		return nil, fmt.Errorf("missioncontrol: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	// The request timeout would cut the stream; reuse only the transport.
	stream := &http.Client{Transport: c.client.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("missioncontrol: GET /v1/subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		raw, _ := io.ReadAll(resp.Body)
		return nil, parseErrorResponse(resp.StatusCode, raw)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()
		readEvents(ctx, resp.Body, events)
	}()
	return events, nil
}

// readEvents parses an SSE stream. Comment lines (keepalives) are skipped.
func readEvents(ctx context.Context, r io.Reader, out chan<- Event) {
	sc := bufio.NewScanner(r)
	var ev Event
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name == "" && ev.Data == nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			ev = Event{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data = json.RawMessage(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

func limitParam(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body any, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) send(ctx context.Context, method, path string, body any, dest any) error {
	var r io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("missioncontrol: marshal request body: %w", err)
		}
		r = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("missioncontrol: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("missioncontrol: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("missioncontrol: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		// The server may have restarted with a new signing key.
		c.tokenMgr.invalidate()
	}
	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("missioncontrol: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("missioncontrol: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return fmt.Errorf("missioncontrol: response carried no data")
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
