// Package telegram sends plain text through the Telegram Bot API (telebot).
// It backs the operator log sink and the reference actor's telegram sink.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "rivalbot/pkg/logx"
)

// TextLimit is the per-message size we send; Telegram's hard limit is 4096.
const TextLimit = 4000

type Config struct {
	Token   string
	Timeout time.Duration
	// APIURL overrides https://api.telegram.org (tests, local bot API servers).
	APIURL string
}

type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

// New validates the token with getMe.
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		URL:    cfg.APIURL,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{bot: b, log: log}, nil
}

// Username is the bot's own @username (without '@').
func (s *Sender) Username() string {
	if s.bot.Me == nil {
		return ""
	}
	return s.bot.Me.Username
}

// SendOperatorText implements logx.OperatorSender.
func (s *Sender) SendOperatorText(ctx context.Context, chatID int64, threadID int, text string) error {
	return s.send(ctx, tele.ChatID(chatID), threadID, text)
}

// SendTo delivers text to a recipient given as a numeric chat id or an
// @username of a channel/group the bot can post to.
func (s *Sender) SendTo(ctx context.Context, recipient, text string) error {
	to, err := ParseRecipient(recipient)
	if err != nil {
		return err
	}
	return s.send(ctx, to, 0, text)
}

func (s *Sender) send(ctx context.Context, to tele.Recipient, threadID int, text string) error {
	for _, chunk := range SplitText(text, TextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: threadID}
		if _, err := s.bot.Send(to, chunk, opt); err != nil {
			return fmt.Errorf("telegram send to %s: %w", to.Recipient(), err)
		}
	}
	return nil
}

type chatRef string

func (c chatRef) Recipient() string { return string(c) }

// ParseRecipient accepts "-100123", "42", "@name" or "name".
func ParseRecipient(s string) (tele.Recipient, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("telegram: empty recipient")
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return tele.ChatID(id), nil
	}
	if !strings.HasPrefix(s, "@") {
		s = "@" + s
	}
	return chatRef(s), nil
}

// SplitText cuts s into chunks of at most limit runes, preferring newlines.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			// Break at the last newline in the window unless that leaves a tiny chunk.
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
