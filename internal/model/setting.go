package model

import (
	"encoding/json"
	"time"
)

// Known system_config keys.
const (
	SettingOperatorName   = "operator_name"
	SettingKillSwitchPath = "kill_switch_path"
	SettingTelegramChatID = "telegram_chat_id"
	SettingDiscordWebhook = "discord_webhook"
)

// Setting is one key of the system configuration table. Values are stored
// as arbitrary JSON.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}
