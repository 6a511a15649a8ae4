package compose

import (
	"strings"

	"rivalbot/internal/config"
	logx "rivalbot/pkg/logx"
)

// New builds the composer selected by cfg.Backend. The template composer is
// the default and the fallback of every other backend.
func New(cfg config.ComposerConfig, log logx.Logger) Composer {
	tpl := NewTemplate(nil)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "template":
		return tpl
	case "openai":
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			log.Warn("composer.openai.api_key empty; using template composer")
			return tpl
		}
		// Validate already rejected malformed durations.
		timeout, _ := config.ParseDurationOrDefault("composer.openai.timeout", cfg.OpenAI.Timeout, 0)
		return NewRemote(RemoteOptions{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Timeout:     timeout,
			Temperature: cfg.OpenAI.Temperature,
			MaxTokens:   cfg.OpenAI.MaxTokens,
		}, tpl, log)
	default:
		log.Warn("unknown composer backend; using template", logx.String("backend", cfg.Backend))
		return tpl
	}
}
