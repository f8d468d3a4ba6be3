package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCreds = `{"type":"service_account","client_email":"bot@example.iam.gserviceaccount.com"}`

var envKeys = []string{
	"BOT_TOKEN", "BOT_OWNER_ID", "ADMIN_ROLE_NAME", "STREAK_CHAT_ID", "CREDENTIALS_B64",
	"SPREADSHEET_ID", "STORE_BACKEND", "DB_PATH", "LOG_LEVEL", "LOG_FILE", "CRASH_LOG_FILE",
	"PORT", "METRICS_PORT", "TIMEZONE_OFFSET", "POLL_INTERVAL", "CATCH_UP_WINDOW",
	"STORE_CALL_TIMEOUT", "COMMAND_COOLDOWN", "RESTART_DELAY", "LEDGER_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "test-token")
	t.Setenv("CREDENTIALS_B64", base64.StdEncoding.EncodeToString([]byte(testCreds)))
	t.Setenv("SPREADSHEET_ID", "sheet-1")
	t.Setenv("BOT_OWNER_ID", "42")
	t.Setenv("TIMEZONE_OFFSET", "-5")
	t.Setenv("PORT", "9000")
	t.Setenv("CATCH_UP_WINDOW", "3m")
	t.Setenv("LEDGER_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "test-token", cfg.Telegram.BotToken)
	assert.Equal(t, "sheet-1", cfg.Store.SpreadsheetID)
	assert.Equal(t, "42", cfg.Telegram.OwnerID)
	assert.Equal(t, -5, cfg.Scheduler.TimezoneOffset)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3*time.Minute, cfg.Scheduler.CatchUpWindow.Duration)
	assert.False(t, cfg.Scheduler.LedgerEnabled)

	// untouched defaults
	assert.Equal(t, "Admin", cfg.Telegram.AdminRoleName)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval.Duration)
	assert.Equal(t, 30*time.Second, cfg.Store.CallTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.RestartDelay.Duration)
	assert.Equal(t, 4, cfg.Streak.Workers)
	assert.Equal(t, int64(20<<20), cfg.AttachmentMaxBytes)

	creds, err := cfg.Credentials()
	require.NoError(t, err)
	assert.JSONEq(t, testCreds, string(creds))
}

func TestConfig_LoadFromFile(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()

	jsonPath := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"telegram": {"bot_token": "json-token", "streak_chat_id": "-1001"},
		"store": {"backend": "sqlite", "db_path": "/tmp/bot.db", "call_timeout": "10s"},
		"scheduler": {"poll_interval": 120000000000}
	}`), 0644))

	cfg, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "json-token", cfg.Telegram.BotToken)
	assert.Equal(t, "-1001", cfg.Telegram.StreakChatID)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 10*time.Second, cfg.Store.CallTimeout.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.PollInterval.Duration)
	assert.True(t, cfg.Scheduler.LedgerEnabled)

	yamlPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
telegram:
  bot_token: yaml-token
store:
  backend: sqlite
streak:
  workers: 2
  command_cooldown: 30s
restart_delay: 1s
`), 0644))

	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "yaml-token", cfg.Telegram.BotToken)
	assert.Equal(t, 2, cfg.Streak.Workers)
	assert.Equal(t, 30*time.Second, cfg.Streak.CommandCooldown.Duration)
	assert.Equal(t, time.Second, cfg.RestartDelay.Duration)

	t.Setenv("BOT_TOKEN", "env-token")
	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.BotToken, "environment wins over the file")

	_, err = Load(filepath.Join(tmpDir, "missing.json"))
	assert.Error(t, err)

	invalidPath := filepath.Join(tmpDir, "invalid.json")
	require.NoError(t, os.WriteFile(invalidPath, []byte("{invalid json}"), 0644))
	_, err = Load(invalidPath)
	assert.Error(t, err)
}

func TestConfig_Validation(t *testing.T) {
	validCreds := base64.StdEncoding.EncodeToString([]byte(testCreds))

	tests := []struct {
		name        string
		mutate      func(c *Config)
		shouldError bool
	}{
		{name: "valid sheets config", mutate: func(c *Config) {}},
		{name: "missing bot token", mutate: func(c *Config) { c.Telegram.BotToken = "" }, shouldError: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "postgres" }, shouldError: true},
		{name: "sheets without spreadsheet", mutate: func(c *Config) { c.Store.SpreadsheetID = "" }, shouldError: true},
		{name: "sheets without credentials", mutate: func(c *Config) { c.Store.CredentialsB64 = "" }, shouldError: true},
		{name: "sheets with garbage credentials", mutate: func(c *Config) { c.Store.CredentialsB64 = "bm90IGpzb24" }, shouldError: true},
		{
			name: "sqlite needs no credentials",
			mutate: func(c *Config) {
				c.Store.Backend = BackendSQLite
				c.Store.CredentialsB64 = ""
				c.Store.SpreadsheetID = ""
			},
		},
		{name: "offset out of range", mutate: func(c *Config) { c.Scheduler.TimezoneOffset = 15 }, shouldError: true},
		{name: "poll interval too short", mutate: func(c *Config) { c.Scheduler.PollInterval = Duration{time.Millisecond} }, shouldError: true},
		{name: "negative cooldown", mutate: func(c *Config) { c.Streak.CommandCooldown = Duration{-time.Second} }, shouldError: true},
		{name: "no workers", mutate: func(c *Config) { c.Streak.Workers = 0 }, shouldError: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, shouldError: true},
		{name: "non-numeric owner", mutate: func(c *Config) { c.Telegram.OwnerID = "@owner" }, shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Telegram.BotToken = "token"
			cfg.Store.CredentialsB64 = validCreds
			cfg.Store.SpreadsheetID = "sheet"
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_BadEnvValues(t *testing.T) {
	for _, key := range []string{"PORT", "POLL_INTERVAL", "LEDGER_ENABLED"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("BOT_TOKEN", "token")
			t.Setenv("STORE_BACKEND", "sqlite")
			t.Setenv(key, "not-a-value")
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestDecodeCredentials(t *testing.T) {
	std := base64.StdEncoding.EncodeToString([]byte(testCreds))
	url := base64.URLEncoding.EncodeToString([]byte(testCreds + "  ?>"))
	urlJSON := base64.URLEncoding.EncodeToString([]byte(`{"k":"??>>"}`))

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "standard", in: std},
		{name: "unpadded", in: base64.RawStdEncoding.EncodeToString([]byte(testCreds))},
		{name: "wrapped lines", in: std[:20] + "\n  " + std[20:] + "\n"},
		{name: "url alphabet", in: urlJSON},
		{name: "not json", in: url, wantErr: true},
		{name: "empty", in: "  ", wantErr: true},
		{name: "not base64", in: "%%%%", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeCredentials(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}
