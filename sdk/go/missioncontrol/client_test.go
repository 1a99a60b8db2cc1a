package missioncontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockServer creates an httptest server that mimics the API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
				},
			})
		})
	}
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		Name:    "Sophia CSM",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x"})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x", APIKey: "k"})
	assert.NoError(t, err, "operators may omit the name")
}

func TestRunStateSendsBearerToken(t *testing.T) {
	var gotAuth string
	var authBody authRequest
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&authBody))
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"token": "tok-1", "expires_at": time.Now().Add(time.Hour)},
			})
		},
		"GET /v1/kill-switch": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, map[string]any{
				"data": RunState{Status: StatusStopped, TriggeredBy: "Josh", Reason: "incident"},
			})
		},
	})

	c := newTestClient(t, srv.URL)
	rs, err := c.RunState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "Sophia CSM", authBody.Name)
	assert.Equal(t, "test-key", authBody.APIKey)
	assert.False(t, rs.Running())
	assert.Equal(t, "Josh", rs.TriggeredBy)

	ok, err := c.MayProceed(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenIsCachedUntilNearExpiry(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"token": "t", "expires_at": time.Now().Add(time.Hour)},
			})
		},
		"GET /v1/agents": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": AgentList{}})
		},
	})
	c := newTestClient(t, srv.URL)
	for range 3 {
		_, err := c.Agents(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), authCalls.Load())
}

func TestUnauthorizedDropsCachedToken(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"token": "t", "expires_at": time.Now().Add(time.Hour)},
			})
		},
		"GET /v1/agents": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid or expired token"},
			})
		},
	})
	c := newTestClient(t, srv.URL)
	_, err := c.Agents(context.Background())
	assert.True(t, IsUnauthorized(err))
	_, err = c.Agents(context.Background())
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, int32(2), authCalls.Load())
}

func TestAuthFailureSurfacesAPIError(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid credentials"},
			})
		},
	})
	c := newTestClient(t, srv.URL)
	_, err := c.RunState(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}

func TestStopSendsStatusAndReason(t *testing.T) {
	var body map[string]string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"PUT /v1/kill-switch": func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Transition{
					RunState:       RunState{Status: StatusStopped, Reason: body["reason"]},
					PreviousStatus: StatusRunning,
				},
			})
		},
	})
	c := newTestClient(t, srv.URL)
	tr, err := c.Stop(context.Background(), "bad batch")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "stopped", "reason": "bad batch"}, body)
	assert.Equal(t, StatusRunning, tr.PreviousStatus)
	assert.Equal(t, "bad batch", tr.RunState.Reason)
}

func TestToggleWithoutReasonSendsNoBody(t *testing.T) {
	var contentLength int64 = -1
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/kill-switch/toggle": func(w http.ResponseWriter, r *http.Request) {
			contentLength = r.ContentLength
			writeJSON(w, http.StatusOK, map[string]any{"data": Transition{RunState: RunState{Status: StatusRunning}}})
		},
	})
	c := newTestClient(t, srv.URL)
	_, err := c.Toggle(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), contentLength)
}

func TestQueryAuditEncodesFilters(t *testing.T) {
	var gotQuery string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/audit": func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{"data": AuditPage{Page: 2, HasMore: true}})
		},
	})
	c := newTestClient(t, srv.URL)
	p, err := c.QueryAudit(context.Background(), &AuditQuery{Agent: "Sophia CSM", Text: "email", Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, "agent=Sophia+CSM&page=2&page_size=10&q=email", gotQuery)
	assert.True(t, p.HasMore)
}

func TestSetAgentStatusEscapesName(t *testing.T) {
	var gotPath string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"PUT /v1/agents/{name}/status": func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.PathValue("name")
			writeJSON(w, http.StatusOK, map[string]any{"data": AgentStatusChange{Changed: true}})
		},
	})
	c := newTestClient(t, srv.URL)
	change, err := c.SetAgentStatus(context.Background(), "Sophia CSM", AgentStatusRequest{Status: "online"})
	require.NoError(t, err)
	assert.Equal(t, "Sophia CSM", gotPath)
	assert.True(t, change.Changed)
}

func TestDecideConflictAndPartialFailure(t *testing.T) {
	conflictID := uuid.New()
	partialID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/approvals/{id}/decision": func(w http.ResponseWriter, r *http.Request) {
			switch r.PathValue("id") {
			case conflictID.String():
				writeJSON(w, http.StatusConflict, map[string]any{
					"error": map[string]any{"code": "CONFLICT", "message": "email is not awaiting approval"},
				})
			case partialID.String():
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error": map[string]any{
						"code":    "PARTIAL_FAILURE",
						"message": "decision partially applied",
						"details": map[string]any{
							"failed_step": "insert_approval",
							"email":       Email{ID: partialID, Status: "rejected"},
						},
					},
				})
			}
		},
	})
	c := newTestClient(t, srv.URL)

	_, err := c.Approve(context.Background(), conflictID)
	assert.True(t, IsConflict(err))
	_, ok := AsPartialFailure(err)
	assert.False(t, ok)

	_, err = c.Reject(context.Background(), partialID)
	require.Error(t, err)
	pf, ok := AsPartialFailure(err)
	require.True(t, ok)
	assert.Equal(t, "insert_approval", pf.FailedStep)
	assert.Equal(t, "rejected", pf.Email.Status)
	assert.Nil(t, pf.Approval)
}

func TestUpdateSettingsMarshalsValues(t *testing.T) {
	var body struct {
		Settings map[string]json.RawMessage `json:"settings"`
	}
	srv := mockServer(t, map[string]http.HandlerFunc{
		"PUT /v1/settings": func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{"settings": []Setting{{Key: "operator_name", Value: json.RawMessage(`"Josh"`)}}},
			})
		},
	})
	c := newTestClient(t, srv.URL)
	list, err := c.UpdateSettings(context.Background(), map[string]any{"operator_name": "Josh", "retries": 3})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `"Josh"`, string(body.Settings["operator_name"]))
	assert.JSONEq(t, `3`, string(body.Settings["retries"]))
}

func TestHealthSkipsAuth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			t.Error("health must not authenticate")
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": Health{Status: "healthy", Store: "sqlite"}})
		},
	})
	c := newTestClient(t, srv.URL)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
}

func TestReadEventsParsesStream(t *testing.T) {
	stream := ":keepalive\n\nevent: kill_switch\ndata: {\"table\":\"kill_switch\"}\n\nevent: agents\ndata: {}\n\n"
	out := make(chan Event, 4)
	readEvents(context.Background(), strings.NewReader(stream), out)
	close(out)

	var got []Event
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "kill_switch", got[0].Name)
	assert.JSONEq(t, `{"table":"kill_switch"}`, string(got[0].Data))
	assert.Equal(t, "agents", got[1].Name)
}

func TestSubscribeDeliversEvents(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/subscribe": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("event: approvals\ndata: {\"op\":\"insert\"}\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		},
	})
	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Subscribe(ctx)
	require.NoError(t, err)
	select {
	case ev := <-events:
		assert.Equal(t, "approvals", ev.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscribeUnavailable(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/subscribe": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": map[string]any{"code": "INTERNAL_ERROR", "message": "SSE not available"},
			})
		},
	})
	c := newTestClient(t, srv.URL)
	_, err := c.Subscribe(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestTaskRoutes(t *testing.T) {
	id := uuid.New()
	var gotQuery string
	var gotBody map[string]any
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/tasks": func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			writeJSON(w, http.StatusOK, map[string]any{"data": TaskBoard{Total: 1, Queued: 1}})
		},
		"PATCH /v1/tasks/{id}": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, id.String(), r.PathValue("id"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeJSON(w, http.StatusOK, map[string]any{"data": Task{ID: id, Status: "completed"}})
		},
	})
	c := newTestClient(t, srv.URL)

	b, err := c.Tasks(context.Background(), &TaskQuery{Agent: "Sophia CSM", Status: "queued", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, "agent=Sophia+CSM&limit=5&status=queued", gotQuery)
	assert.Equal(t, 1, b.Queued)

	task, err := c.ReportTask(context.Background(), id, "completed", nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", task.Status)
	assert.Equal(t, map[string]any{"status": "completed"}, gotBody)
}

func TestNotificationRoutes(t *testing.T) {
	id := uuid.New()
	var paths []string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/notifications": func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.RequestURI())
			writeJSON(w, http.StatusOK, map[string]any{"data": Inbox{Unread: 2}})
		},
		"POST /v1/notifications/{id}/dismiss": func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{"data": Notification{ID: id, Status: "dismissed"}})
		},
		"POST /v1/notifications/read-all": func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"marked": 3}})
		},
		"POST /v1/notifications/{id}/read": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{"code": "CONFLICT", "message": "notification was dismissed"},
			})
		},
	})
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	box, err := c.Notifications(ctx, true, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, box.Unread)

	n, err := c.Dismiss(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dismissed", n.Status)

	_, err = c.MarkRead(ctx, id)
	assert.True(t, IsConflict(err))

	marked, err := c.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), marked)

	assert.Equal(t, []string{
		"/v1/notifications?limit=20&unread=true",
		"/v1/notifications/" + id.String() + "/dismiss",
		"/v1/notifications/read-all",
	}, paths)
}
