package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"rivalbot/internal/schedule"
	logx "rivalbot/pkg/logx"
)

const (
	DefaultSourceBaseURL    = "https://v3.football.api-sports.io"
	DefaultSourceHost       = "v3.football.api-sports.io"
	DefaultSeason           = "2024"
	DefaultSchedule         = "5m"
	DefaultEntityPacing     = 10 * time.Second
	DefaultBaselinePacing   = 5 * time.Second
	DefaultActorReadTimeout = 30 * time.Second
)

// ApplyDefaults fills omitted optional fields.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		c.Source.BaseURL = DefaultSourceBaseURL
	}
	if strings.TrimSpace(c.Source.Host) == "" {
		c.Source.Host = DefaultSourceHost
	}
	if strings.TrimSpace(c.Source.Season) == "" {
		c.Source.Season = DefaultSeason
	}
	if c.Source.RequestsPerMinute <= 0 {
		c.Source.RequestsPerMinute = 10
	}
	if strings.TrimSpace(c.Composer.Backend) == "" {
		c.Composer.Backend = "template"
	}
	if strings.TrimSpace(c.Tracker.Schedule) == "" {
		c.Tracker.Schedule = DefaultSchedule
	}
}

// Validate performs sanity checks on configuration values.
func (c *Config) Validate() error {
	if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Operator.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return errors.New("telegram.token is required when logging.operator.enabled is true")
		}
		if _, err := c.OperatorChatID(); err != nil {
			return err
		}
	}
	if _, err := ParseDurationField("telegram.timeout", c.Telegram.Timeout); err != nil {
		return err
	}

	if strings.TrimSpace(c.Source.APIKey) == "" {
		return errors.New("source.api_key is required")
	}
	if _, err := ParseDurationField("source.timeout", c.Source.Timeout); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(c.Composer.Backend)) {
	case "template", "openai":
	default:
		return fmt.Errorf("composer.backend must be one of template or openai, got %q", c.Composer.Backend)
	}
	if c.Composer.OpenAI.Temperature < 0 || c.Composer.OpenAI.Temperature > 2 {
		return errors.New("composer.openai.temperature must be within [0,2]")
	}
	if c.Composer.OpenAI.MaxTokens < 0 {
		return errors.New("composer.openai.max_tokens must be >= 0")
	}
	if _, err := ParseDurationField("composer.openai.timeout", c.Composer.OpenAI.Timeout); err != nil {
		return err
	}

	if strings.TrimSpace(c.Actor.Command) == "" {
		return errors.New("actor.command is required")
	}
	if strings.TrimSpace(c.Actor.Username) == "" || c.Actor.Password == "" {
		return errors.New("actor.username and actor.password are required")
	}
	if _, err := ParseDurationField("actor.read_timeout", c.Actor.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("actor.start_delay", c.Actor.StartDelay); err != nil {
		return err
	}

	if _, err := ParseDurationField("tracker.entity_pacing", c.Tracker.EntityPacing); err != nil {
		return err
	}
	if _, err := ParseDurationField("tracker.baseline_pacing", c.Tracker.BaselinePacing); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Tracker.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("tracker.timezone: %w", err)
		}
	}
	if _, err := schedule.Parse(c.Tracker.Schedule); err != nil {
		return fmt.Errorf("tracker.schedule: %w", err)
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver must be one of none, file or sqlite, got %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if d := c.Diagnostics; d.Enabled && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(d.Addr); err != nil {
			return fmt.Errorf("diagnostics.addr: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(c.Rivalries))
	for i, r := range c.Rivalries {
		id := strings.TrimSpace(string(r.ID))
		if id == "" {
			return fmt.Errorf("rivalries[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rivalries[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		switch strings.ToLower(strings.TrimSpace(r.Kind)) {
		case "player", "team":
		default:
			return fmt.Errorf("rivalries[%d].kind must be player or team, got %q", i, r.Kind)
		}
		if strings.TrimSpace(r.Recipient) == "" {
			return fmt.Errorf("rivalries[%d].recipient is required", i)
		}
	}
	return nil
}

// OperatorChatID parses telegram.operator_chat. An empty value returns 0.
func (c *Config) OperatorChatID() (int64, error) {
	raw := strings.TrimSpace(c.Telegram.OperatorChat)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.operator_chat: invalid chat id %q", raw)
	}
	return id, nil
}
