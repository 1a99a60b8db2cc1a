package settings_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mission-control/internal/model"
	"github.com/ashita-ai/mission-control/internal/service/settings"
	"github.com/ashita-ai/mission-control/internal/storage/sqlite"
	"github.com/ashita-ai/mission-control/internal/testutil"
)

func TestUpdateStoresAndAudits(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewSQLite(t)
	svc := settings.New(st, testutil.TestLogger())

	res, err := svc.Update(ctx, map[string]json.RawMessage{
		model.SettingOperatorName:   json.RawMessage(`"Josh"`),
		model.SettingKillSwitchPath: json.RawMessage(`"/tmp/mc.flag"`),
	}, "Josh")
	require.NoError(t, err)
	require.NoError(t, res.AuditErr)
	assert.Len(t, res.Settings, 2)

	name, err := svc.String(ctx, model.SettingOperatorName)
	require.NoError(t, err)
	assert.Equal(t, "Josh", name)

	missing, err := svc.String(ctx, model.SettingDiscordWebhook)
	require.NoError(t, err)
	assert.Empty(t, missing)

	entries, err := st.QueryAuditEntries(ctx, model.AuditFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionSettingsUpdated, entries[0].Action)
	assert.Equal(t, model.SystemActor, entries[0].Agent)
	assert.Equal(t, "Josh", entries[0].Details["updated_by"])
}

func TestUpdateOverwrites(t *testing.T) {
	ctx := context.Background()
	svc := settings.New(testutil.NewSQLite(t), testutil.TestLogger())

	_, err := svc.Update(ctx, map[string]json.RawMessage{model.SettingTelegramChatID: json.RawMessage(`"1"`)}, "Josh")
	require.NoError(t, err)
	_, err = svc.Update(ctx, map[string]json.RawMessage{model.SettingTelegramChatID: json.RawMessage(`"2"`)}, "Josh")
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `"2"`, string(list[0].Value))
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	svc := settings.New(testutil.NewSQLite(t), testutil.TestLogger())

	_, err := svc.Update(ctx, nil, "Josh")
	require.ErrorIs(t, err, settings.ErrInvalidInput)
	_, err = svc.Update(ctx, map[string]json.RawMessage{"k": json.RawMessage(`{`)}, "Josh")
	require.ErrorIs(t, err, settings.ErrInvalidInput)
	_, err = svc.Update(ctx, map[string]json.RawMessage{"bad key": json.RawMessage(`1`)}, "Josh")
	require.ErrorIs(t, err, settings.ErrInvalidInput)
	_, err = svc.Update(ctx, map[string]json.RawMessage{"k": json.RawMessage(`1`)}, "")
	require.ErrorIs(t, err, settings.ErrInvalidInput)
}

type failingAudit struct {
	*sqlite.Store
}

func (failingAudit) InsertAuditEntry(context.Context, model.AuditEntry) (model.AuditEntry, error) {
	return model.AuditEntry{}, errors.New("audit unavailable")
}

func TestAuditFailureKeepsSettings(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewSQLite(t)
	svc := settings.New(failingAudit{st}, testutil.TestLogger())

	res, err := svc.Update(ctx, map[string]json.RawMessage{"k": json.RawMessage(`true`)}, "Josh")
	require.NoError(t, err)
	require.Error(t, res.AuditErr)

	list, err := st.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
