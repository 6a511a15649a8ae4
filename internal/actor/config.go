package actor

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	SinkLog      = "log"
	SinkTelegram = "telegram"
)

// Config is read from DMACTOR_* environment variables first; command line
// flags override it. The tracker always passes --username and --password.
type Config struct {
	Username    string `env:"DMACTOR_USERNAME"`
	Password    string `env:"DMACTOR_PASSWORD"`
	Sink        string `env:"DMACTOR_SINK" envDefault:"log"`
	TelegramAPI string `env:"DMACTOR_TELEGRAM_API"`
	LogLevel    string `env:"DMACTOR_LOG_LEVEL" envDefault:"info"`
}

func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if fs == nil {
		return cfg, errors.New("flag set is required")
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.Username, "username", cfg.Username, "account username (telegram: expected bot username)")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "account password (telegram: bot token)")
	fs.StringVar(&cfg.Sink, "sink", cfg.Sink, "delivery sink: log or telegram")
	fs.StringVar(&cfg.TelegramAPI, "telegram-api", cfg.TelegramAPI, "override Telegram Bot API base URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "stderr log level")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.Sink = strings.ToLower(strings.TrimSpace(cfg.Sink))
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Sink {
	case SinkLog:
		return nil
	case SinkTelegram:
		if strings.TrimSpace(c.Password) == "" {
			return errors.New("telegram sink needs --password (bot token)")
		}
		return nil
	default:
		return fmt.Errorf("unknown sink %q", c.Sink)
	}
}
