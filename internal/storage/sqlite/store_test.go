package sqlite_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/storage"
	"github.com/ashita-ai/mission-control/internal/storage/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := sqlite.Open(context.Background(), sqlite.MemoryDSN(t.Name()), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func ptr[T any](v T) *T { return &v }

func TestProvisionRunStateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	_, err := st.GetRunState(ctx, model.RunStateID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	created, err := st.ProvisionRunState(ctx, model.RunState{
		ID: model.RunStateID, Status: model.RunStatusRunning, TriggeredAt: at, TriggeredBy: "System", Reason: "Provisioned",
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.ProvisionRunState(ctx, model.RunState{
		ID: model.RunStateID, Status: model.RunStatusStopped, TriggeredAt: at, TriggeredBy: "Other",
	})
	require.NoError(t, err)
	assert.False(t, created, "second provision must not overwrite")

	rs, err := st.GetRunState(ctx, model.RunStateID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, rs.Status)
	assert.Equal(t, "System", rs.TriggeredBy)
	assert.True(t, at.Equal(rs.TriggeredAt))
}

func TestUpdateRunStateRequiresRow(t *testing.T) {
	_, err := newStore(t).UpdateRunState(context.Background(), model.RunState{
		ID: model.RunStateID, Status: model.RunStatusStopped, TriggeredAt: time.Now(),
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAuditOrderingBreaksTiesBySeq(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	same := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := st.InsertAuditEntry(ctx, model.AuditEntry{Agent: "a", Action: model.ActionEmailSent, Status: model.AuditSuccess, ExecutedAt: same})
	require.NoError(t, err)
	second, err := st.InsertAuditEntry(ctx, model.AuditEntry{Agent: "b", Action: model.ActionEmailSent, Status: model.AuditSuccess, ExecutedAt: same})
	require.NoError(t, err)
	older, err := st.InsertAuditEntry(ctx, model.AuditEntry{Agent: "c", Action: model.ActionEmailSent, Status: model.AuditSuccess, ExecutedAt: same.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	got, err := st.QueryAuditEntries(ctx, model.AuditFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uuid.UUID{second.ID, first.ID, older.ID}, []uuid.UUID{got[0].ID, got[1].ID, got[2].ID})

	page, err := st.QueryAuditEntries(ctx, model.AuditFilter{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)
}

func TestAuditTextFilterIsCaseInsensitiveAndLiteral(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	for _, e := range []model.AuditEntry{
		{Agent: "Sophia CSM", Action: model.ActionEmailSent, Status: model.AuditSuccess},
		{Agent: "Alex", Action: "cold_outreach", Status: model.AuditFailure},
		{Agent: "Video Bot", Action: "video_scripts", Status: model.AuditSuccess},
	} {
		_, err := st.InsertAuditEntry(ctx, e)
		require.NoError(t, err)
	}

	got, err := st.QueryAuditEntries(ctx, model.AuditFilter{Text: "SOPHIA"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Sophia CSM", got[0].Agent)

	got, err = st.QueryAuditEntries(ctx, model.AuditFilter{Text: "fail"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alex", got[0].Agent)

	// "_" must match literally, not as a wildcard.
	got, err = st.QueryAuditEntries(ctx, model.AuditFilter{Text: "S_phia"}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = st.QueryAuditEntries(ctx, model.AuditFilter{Agent: "Alex", Text: "success"}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuditEntryRoundTripsOptionalFields(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	in, err := st.InsertAuditEntry(ctx, model.AuditEntry{
		Agent: "Sophia CSM", Action: "sophia_polling", Status: model.AuditFailure,
		Details:    map[string]any{"inbox": "support"},
		DurationMS: ptr(int64(1200)), ErrorMessage: ptr("imap timeout"),
	})
	require.NoError(t, err)

	got, err := st.QueryAuditEntries(ctx, model.AuditFilter{}, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in.ID, got[0].ID)
	assert.Equal(t, "support", got[0].Details["inbox"])
	require.NotNil(t, got[0].DurationMS)
	assert.Equal(t, int64(1200), *got[0].DurationMS)
	require.NotNil(t, got[0].ErrorMessage)
	assert.Equal(t, "imap timeout", *got[0].ErrorMessage)
	assert.True(t, in.ExecutedAt.Equal(got[0].ExecutedAt))
}

func TestEmailsAndApprovals(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	held, err := st.InsertEmail(ctx, model.Email{
		FromEmail: "client@x.com", Subject: "Invoice question", Client: ptr("acme"),
		Priority: ptr(2), RequiresApproval: true, Status: model.EmailAwaitingApproval,
		Analysis: map[string]any{"sentiment": "neutral"},
	})
	require.NoError(t, err)
	_, err = st.InsertEmail(ctx, model.Email{FromEmail: "other@x.com", Subject: "Hi"})
	require.NoError(t, err)

	pending, err := st.ListEmails(ctx, []model.EmailStatus{model.EmailAwaitingApproval}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, held.ID, pending[0].ID)
	assert.Equal(t, "acme", pending[0].ClientName())
	assert.Equal(t, "neutral", pending[0].Analysis["sentiment"])
	require.NotNil(t, pending[0].Priority)
	assert.Equal(t, 2, *pending[0].Priority)

	all, err := st.ListEmails(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	one, err := st.ListEmails(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
	all, err = st.ListEmails(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2, "zero limit lists everything")

	updated, err := st.UpdateEmailStatus(ctx, held.ID, model.EmailRejected)
	require.NoError(t, err)
	assert.Equal(t, model.EmailRejected, updated.Status)

	_, err = st.UpdateEmailStatus(ctx, uuid.New(), model.EmailRejected)
	require.ErrorIs(t, err, storage.ErrNotFound)

	a, err := st.InsertApproval(ctx, model.Approval{
		EmailQueueID: held.ID, ApprovalType: model.ApprovalRoutine,
		RequestBody: "Rejected email from client@x.com: Invoice question",
		Status:      model.ApprovalRejected, ApprovedBy: "Josh", ApprovedAt: ptr(time.Now().UTC()),
	})
	require.NoError(t, err)

	approvals, err := st.ListApprovalsForEmail(ctx, held.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, a.ID, approvals[0].ID)
	assert.Equal(t, "Josh", approvals[0].ApprovedBy)

	_, err = st.InsertApproval(ctx, model.Approval{
		EmailQueueID: uuid.New(), ApprovalType: model.ApprovalRoutine, RequestBody: "x", Status: model.ApprovalApproved,
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertEmailDuplicateID(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	id := uuid.New()
	_, err := st.InsertEmail(ctx, model.Email{ID: id, FromEmail: "a@x.com"})
	require.NoError(t, err)
	_, err = st.InsertEmail(ctx, model.Email{ID: id, FromEmail: "a@x.com"})
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestUpsertAgentStatusReportsPrevious(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	a, prev, err := st.UpsertAgentStatus(ctx, storage.AgentStatusUpdate{
		Name: "Sophia CSM", Role: "customer success", Status: model.AgentOnline, CurrentTask: ptr("triage"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.AgentStatus(""), prev)
	assert.Equal(t, "customer success", a.Role)
	require.NotNil(t, a.LastActivity)

	b, prev, err := st.UpsertAgentStatus(ctx, storage.AgentStatusUpdate{Name: "Sophia CSM", Status: model.AgentError})
	require.NoError(t, err)
	assert.Equal(t, model.AgentOnline, prev)
	assert.Equal(t, a.ID, b.ID, "upsert keeps identity")
	assert.Equal(t, "customer success", b.Role, "empty role keeps the stored one")
	assert.Nil(t, b.CurrentTask)

	_, _, err = st.UpsertAgentStatus(ctx, storage.AgentStatusUpdate{Name: "Alex", Status: model.AgentIdle})
	require.NoError(t, err)

	agents, err := st.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "Alex", agents[0].Name)
	assert.Equal(t, "Sophia CSM", agents[1].Name)

	_, err = st.GetAgent(ctx, "nobody")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSettingsUpsert(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	_, err := st.UpsertSettings(ctx, map[string]json.RawMessage{
		model.SettingOperatorName:   json.RawMessage(`"Josh"`),
		model.SettingTelegramChatID: json.RawMessage(`12345`),
	})
	require.NoError(t, err)
	_, err = st.UpsertSettings(ctx, map[string]json.RawMessage{
		model.SettingOperatorName: json.RawMessage(`"Dana"`),
	})
	require.NoError(t, err)

	settings, err := st.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, model.SettingOperatorName, settings[0].Key)
	assert.JSONEq(t, `"Dana"`, string(settings[0].Value))
	assert.JSONEq(t, `12345`, string(settings[1].Value))
}

func TestChangeNotifications(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st := newStore(t)

	// Nothing is queued before Listen.
	_, err := st.InsertAuditEntry(ctx, model.AuditEntry{Agent: "a", Action: model.ActionEmailSent, Status: model.AuditSuccess})
	require.NoError(t, err)

	require.Error(t, st.Listen(ctx, "other"))
	require.NoError(t, st.Listen(ctx, storage.ChannelChanges))

	e, err := st.InsertAuditEntry(ctx, model.AuditEntry{Agent: "b", Action: model.ActionEmailSent, Status: model.AuditSuccess})
	require.NoError(t, err)

	channel, payload, err := st.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ChannelChanges, channel)

	var c storage.Change
	require.NoError(t, json.Unmarshal([]byte(payload), &c))
	assert.Equal(t, storage.Change{Table: "audit_log", Op: "insert", ID: e.ID.String()}, c)

	short, stop := context.WithTimeout(ctx, 20*time.Millisecond)
	defer stop()
	_, _, err = st.WaitForNotification(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDSNFromURL(t *testing.T) {
	dsn, err := sqlite.DSNFromURL("sqlite:///var/lib/mc/mc.db")
	require.NoError(t, err)
	assert.Equal(t, "file:/var/lib/mc/mc.db", dsn)

	dsn, err = sqlite.DSNFromURL("sqlite://:memory:")
	require.NoError(t, err)
	assert.Contains(t, dsn, "mode=memory")

	_, err = sqlite.DSNFromURL("postgres://localhost/mc")
	assert.Error(t, err)
	_, err = sqlite.DSNFromURL("sqlite://")
	assert.Error(t, err)
}
