package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendSheets = "sheets"
	BackendSQLite = "sqlite"
)

// ErrInvalidCredentials is returned when CREDENTIALS_B64 does not decode to JSON.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Config holds all configuration for the application.
type Config struct {
	Server struct {
		Port        int `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
		MetricsPort int `json:"metrics_port" yaml:"metrics_port" validate:"gte=0,lte=65535"`
	} `json:"server" yaml:"server"`

	Log struct {
		Level     string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
		File      string `json:"file" yaml:"file"`
		CrashFile string `json:"crash_file" yaml:"crash_file"`
	} `json:"log" yaml:"log"`

	Telegram struct {
		BotToken      string `json:"bot_token" yaml:"bot_token" validate:"required"`
		OwnerID       string `json:"owner_id" yaml:"owner_id" validate:"omitempty,numeric"`
		AdminRoleName string `json:"admin_role_name" yaml:"admin_role_name"`
		StreakChatID  string `json:"streak_chat_id" yaml:"streak_chat_id" validate:"omitempty,numeric"`
	} `json:"telegram" yaml:"telegram"`

	Store struct {
		Backend        string   `json:"backend" yaml:"backend" validate:"oneof=sheets sqlite"`
		CredentialsB64 string   `json:"credentials_b64" yaml:"credentials_b64" validate:"required_if=Backend sheets"`
		SpreadsheetID  string   `json:"spreadsheet_id" yaml:"spreadsheet_id" validate:"required_if=Backend sheets"`
		DBPath         string   `json:"db_path" yaml:"db_path" validate:"required"`
		CallTimeout    Duration `json:"call_timeout" yaml:"call_timeout" validate:"min=1s"`
	} `json:"store" yaml:"store"`

	Scheduler struct {
		TimezoneOffset  int      `json:"timezone_offset" yaml:"timezone_offset" validate:"gte=-12,lte=14"`
		PollInterval    Duration `json:"poll_interval" yaml:"poll_interval" validate:"min=1s"`
		CatchUpWindow   Duration `json:"catch_up_window" yaml:"catch_up_window" validate:"gte=0s"`
		LedgerEnabled   bool     `json:"ledger_enabled" yaml:"ledger_enabled"`
		LedgerRetention Duration `json:"ledger_retention" yaml:"ledger_retention" validate:"gte=0s"`
	} `json:"scheduler" yaml:"scheduler"`

	Streak struct {
		Workers         int      `json:"workers" yaml:"workers" validate:"min=1,max=64"`
		CommandCooldown Duration `json:"command_cooldown" yaml:"command_cooldown" validate:"gte=0s"`
	} `json:"streak" yaml:"streak"`

	RestartDelay       Duration `json:"restart_delay" yaml:"restart_delay" validate:"gte=0s"`
	AttachmentMaxBytes int64    `json:"attachment_max_bytes" yaml:"attachment_max_bytes" validate:"min=1"`
}

// Default returns the configuration used when neither file nor
// environment sets a value.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Log.Level = "info"
	c.Log.CrashFile = "crash_log.txt"
	c.Telegram.AdminRoleName = "Admin"
	c.Store.Backend = BackendSheets
	c.Store.DBPath = "sheetbot.db"
	c.Store.CallTimeout = Duration{30 * time.Second}
	c.Scheduler.TimezoneOffset = 3
	c.Scheduler.PollInterval = Duration{time.Minute}
	c.Scheduler.LedgerEnabled = true
	c.Scheduler.LedgerRetention = Duration{30 * 24 * time.Hour}
	c.Streak.Workers = 4
	c.Streak.CommandCooldown = Duration{time.Minute}
	c.RestartDelay = Duration{5 * time.Second}
	c.AttachmentMaxBytes = 20 << 20
	return &c
}

// Duration is a wrapper around time.Duration that implements JSON and
// YAML unmarshaling from either a number of nanoseconds or a string.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads configuration from an optional JSON or YAML file, applies
// environment overrides and validates the result. An empty path skips
// the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"BOT_TOKEN":       &c.Telegram.BotToken,
		"BOT_OWNER_ID":    &c.Telegram.OwnerID,
		"ADMIN_ROLE_NAME": &c.Telegram.AdminRoleName,
		"STREAK_CHAT_ID":  &c.Telegram.StreakChatID,
		"CREDENTIALS_B64": &c.Store.CredentialsB64,
		"SPREADSHEET_ID":  &c.Store.SpreadsheetID,
		"STORE_BACKEND":   &c.Store.Backend,
		"DB_PATH":         &c.Store.DBPath,
		"LOG_LEVEL":       &c.Log.Level,
		"LOG_FILE":        &c.Log.File,
		"CRASH_LOG_FILE":  &c.Log.CrashFile,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"PORT":            &c.Server.Port,
		"METRICS_PORT":    &c.Server.MetricsPort,
		"TIMEZONE_OFFSET": &c.Scheduler.TimezoneOffset,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"POLL_INTERVAL":      &c.Scheduler.PollInterval,
		"CATCH_UP_WINDOW":    &c.Scheduler.CatchUpWindow,
		"STORE_CALL_TIMEOUT": &c.Store.CallTimeout,
		"COMMAND_COOLDOWN":   &c.Streak.CommandCooldown,
		"RESTART_DELAY":      &c.RestartDelay,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}
			*dst = Duration{d}
		}
	}

	if v := os.Getenv("LEDGER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing LEDGER_ENABLED: %w", err)
		}
		c.Scheduler.LedgerEnabled = b
	}

	return nil
}

// validate checks the configuration for errors.
func (c *Config) validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if c.Store.Backend == BackendSheets {
		if _, err := c.Credentials(); err != nil {
			return err
		}
	}

	return nil
}

// Credentials returns the decoded service account JSON.
func (c *Config) Credentials() ([]byte, error) {
	return DecodeCredentials(c.Store.CredentialsB64)
}

// DecodeCredentials decodes base64 service account JSON. Embedded
// whitespace and missing padding are tolerated and both the standard and
// URL-safe alphabets are accepted.
func DecodeCredentials(encoded string) ([]byte, error) {
	s := strings.Join(strings.Fields(encoded), "")
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCredentials)
	}

	data, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: not JSON", ErrInvalidCredentials)
	}
	return data, nil
}
