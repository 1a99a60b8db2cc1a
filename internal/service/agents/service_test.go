package agents_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/agents"
	"github.com/ashita-ai/mission-control/internal/storage"
	"github.com/ashita-ai/mission-control/internal/storage/sqlite"
	"github.com/ashita-ai/mission-control/internal/testutil"
)

func auditEntries(t *testing.T, st *sqlite.Store) []model.AuditEntry {
	t.Helper()
	entries, err := st.QueryAuditEntries(context.Background(), model.AuditFilter{}, 100, 0)
	require.NoError(t, err)
	return entries
}

func TestOperatorMarksAgentOffline(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewSQLite(t)
	svc := agents.New(st, testutil.TestLogger())

	_, err := svc.SetStatus(ctx, agents.StatusInput{Name: "Alex", Status: model.AgentOnline, Role: "outreach"})
	require.NoError(t, err)
	before, err := svc.Get(ctx, "Alex")
	require.NoError(t, err)

	ch, err := svc.SetStatus(ctx, agents.StatusInput{Name: "Alex", Status: model.AgentOffline})
	require.NoError(t, err)
	assert.True(t, ch.Changed)
	assert.Equal(t, model.AgentOnline, ch.Previous)

	after, err := svc.Get(ctx, "Alex")
	require.NoError(t, err)
	assert.Equal(t, model.AgentOffline, after.Status)
	assert.Equal(t, "outreach", after.Role, "empty role keeps the stored one")
	require.NotNil(t, after.LastActivity)
	require.NotNil(t, before.LastActivity)
	assert.False(t, after.LastActivity.Before(*before.LastActivity))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, model.CountByStatus(list, model.AgentOnline))

	entries := auditEntries(t, st)
	require.Len(t, entries, 2)
	assert.Equal(t, model.ActionAgentStatusChanged, entries[0].Action)
	assert.Equal(t, "Alex", entries[0].Agent)
	assert.Equal(t, "online", entries[0].Details["from"])
	assert.Equal(t, "offline", entries[0].Details["to"])
	assert.Nil(t, entries[1].Details["from"], "first report has no previous status")
}

func TestUnchangedStatusIsNotAudited(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewSQLite(t)
	svc := agents.New(st, testutil.TestLogger())

	_, err := svc.SetStatus(ctx, agents.StatusInput{Name: "Video Bot", Status: model.AgentIdle})
	require.NoError(t, err)
	task := "rendering script 4"
	ch, err := svc.SetStatus(ctx, agents.StatusInput{Name: "Video Bot", Status: model.AgentIdle, CurrentTask: &task})
	require.NoError(t, err)
	assert.False(t, ch.Changed)
	assert.Nil(t, ch.Audit)
	require.NotNil(t, ch.Agent.CurrentTask)
	assert.Equal(t, task, *ch.Agent.CurrentTask)

	assert.Len(t, auditEntries(t, st), 1)
}

func TestAnyTransitionIsAllowed(t *testing.T) {
	ctx := context.Background()
	svc := agents.New(testutil.NewSQLite(t), testutil.TestLogger())

	for _, s := range []model.AgentStatus{model.AgentError, model.AgentOnline, model.AgentOffline, model.AgentError, model.AgentIdle} {
		ch, err := svc.SetStatus(ctx, agents.StatusInput{Name: "Sophia CSM", Status: s})
		require.NoError(t, err)
		assert.Equal(t, s, ch.Agent.Status)
	}
}

func TestSetStatusValidation(t *testing.T) {
	ctx := context.Background()
	svc := agents.New(testutil.NewSQLite(t), testutil.TestLogger())

	_, err := svc.SetStatus(ctx, agents.StatusInput{Name: "", Status: model.AgentOnline})
	require.ErrorIs(t, err, agents.ErrInvalidInput)
	_, err = svc.SetStatus(ctx, agents.StatusInput{Name: "Alex", Status: "sleeping"})
	require.ErrorIs(t, err, agents.ErrInvalidInput)

	_, err = svc.Get(ctx, "nobody")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

type failingAudit struct {
	*sqlite.Store
}

func (failingAudit) InsertAuditEntry(context.Context, model.AuditEntry) (model.AuditEntry, error) {
	return model.AuditEntry{}, errors.New("audit unavailable")
}

func TestAuditFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewSQLite(t)
	svc := agents.New(failingAudit{st}, testutil.TestLogger())

	ch, err := svc.SetStatus(ctx, agents.StatusInput{Name: "Alex", Status: model.AgentError})
	require.NoError(t, err)
	require.Error(t, ch.AuditErr)

	a, err := st.GetAgent(ctx, "Alex")
	require.NoError(t, err)
	assert.Equal(t, model.AgentError, a.Status)
}

func TestListOrderedByName(t *testing.T) {
	ctx := context.Background()
	svc := agents.New(testutil.NewSQLite(t), testutil.TestLogger())
	for _, n := range []string{"Video Bot", "Alex", "Sophia CSM"} {
		_, err := svc.SetStatus(ctx, agents.StatusInput{Name: n, Status: model.AgentOnline})
		require.NoError(t, err)
	}
	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"Alex", "Sophia CSM", "Video Bot"}, []string{list[0].Name, list[1].Name, list[2].Name})
	assert.Equal(t, 3, model.CountByStatus(list, model.AgentOnline))
}
