package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Config is the on-disk configuration (YAML or JSON).
//
// String values may reference environment variables as ${NAME}; they are
// expanded before decoding so credentials never have to live in the file.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Source   SourceConfig   `json:"source"`
	Composer ComposerConfig `json:"composer,omitempty"`
	Actor    ActorConfig    `json:"actor"`
	Tracker  TrackerConfig  `json:"tracker,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`

	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`

	// Rivalries lists tracked entities in polling order.
	// If omitted, the built-in rivalry table is used.
	Rivalries []RivalryConfig `json:"rivalries,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Operator LoggingOperator `json:"operator,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOperator forwards warnings/errors to the Telegram chat in telegram.operator_chat.
type LoggingOperator struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TelegramConfig configures the operator bot. Only needed when
// logging.operator.enabled is true.
type TelegramConfig struct {
	Token        string `json:"token,omitempty"`
	OperatorChat string `json:"operator_chat,omitempty"`
	// Timeout is a Go duration string (e.g. "10s").
	Timeout string `json:"timeout,omitempty"`
}

// SourceConfig configures the statistics API used as the counter source.
//
// Defaults:
//   - base_url: "https://v3.football.api-sports.io"
//   - host: "v3.football.api-sports.io"
//   - season: "2024"
//   - timeout: "15s"
//   - requests_per_minute: 10
type SourceConfig struct {
	BaseURL           string `json:"base_url,omitempty"`
	Host              string `json:"host,omitempty"`
	APIKey            string `json:"api_key"`
	Season            string `json:"season,omitempty"`
	Timeout           string `json:"timeout,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
}

// ComposerConfig selects the message composer.
//
// Backend values:
//   - "template" (default): local randomized templates
//   - "openai": chat completion with template fallback
type ComposerConfig struct {
	Backend string       `json:"backend,omitempty"`
	OpenAI  OpenAIConfig `json:"openai,omitempty"`
}

type OpenAIConfig struct {
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// ActorConfig describes how to launch the delivery actor.
//
// Username and Password are appended to Args as "--username" and "--password".
type ActorConfig struct {
	Command  string   `json:"command"`
	Args     []string `json:"args,omitempty"`
	Dir      string   `json:"dir,omitempty"`
	Username string   `json:"username"`
	Password string   `json:"password"`

	// ReadTimeout bounds each response read (Go duration string, default "30s").
	ReadTimeout string `json:"read_timeout,omitempty"`
	// StartDelay waits between spawn and handshake (Go duration string, default "0s").
	StartDelay string `json:"start_delay,omitempty"`
}

// TrackerConfig controls polling cadence.
//
// Schedule accepts a Go duration ("5m"), HH:MM interval ("00:15") or a cron
// expression ("*/5 * * * *"). Pacing values are Go duration strings.
type TrackerConfig struct {
	Schedule       string `json:"schedule,omitempty"`
	EntityPacing   string `json:"entity_pacing,omitempty"`
	BaselinePacing string `json:"baseline_pacing,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional delivery audit.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/rivalbot.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DiagnosticsConfig enables the local /healthz, /status and pprof endpoint.
// Binding to a non-loopback address requires token or allow_insecure.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type RivalryConfig struct {
	ID        FlexString `json:"id"`
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	RivalName string     `json:"rival_name,omitempty"`
	Supports  string     `json:"supports"`
	Recipient string     `json:"recipient"`
	League    FlexString `json:"league,omitempty"`
}

// FlexString accepts either a JSON string or a JSON number, so numeric ids
// can be written unquoted in YAML.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*f = FlexString(n.String())
	return nil
}
