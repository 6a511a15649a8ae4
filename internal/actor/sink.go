package actor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rivalbot/internal/transport/telegram"
	logx "rivalbot/pkg/logx"
)

// Sink performs the actual delivery of one direct message.
type Sink interface {
	Send(ctx context.Context, recipient, message string) error
}

// LogSink writes deliveries to the log. Useful for dry runs.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Send(_ context.Context, recipient, message string) error {
	s.Log.Info("message delivered", logx.String("recipient", recipient), logx.String("message", message))
	return nil
}

type telegramSink struct {
	sender *telegram.Sender
}

func (s telegramSink) Send(ctx context.Context, recipient, message string) error {
	return s.sender.SendTo(ctx, recipient, message)
}

// NewSink builds the sink selected in cfg. For telegram, the password is the
// bot token and a non-empty username must match the bot's own username.
func NewSink(cfg Config, log logx.Logger) (Sink, error) {
	switch cfg.Sink {
	case SinkLog, "":
		return LogSink{Log: log}, nil
	case SinkTelegram:
		s, err := telegram.New(telegram.Config{
			Token:   cfg.Password,
			Timeout: 15 * time.Second,
			APIURL:  cfg.TelegramAPI,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
		want := strings.TrimPrefix(strings.TrimSpace(cfg.Username), "@")
		if want != "" && !strings.EqualFold(want, s.Username()) {
			return nil, fmt.Errorf("login failed: token belongs to @%s, not @%s", s.Username(), want)
		}
		log.Info("logged in", logx.String("sink", SinkTelegram), logx.String("account", s.Username()))
		return telegramSink{sender: s}, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}
