package config

import (
	"reflect"
	"sort"
	"strings"

	logx "rivalbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a sorted list of changed sections and
// (2) safe structured attrs for logging. Secrets (api keys, tokens, actor
// credentials) are reported only as "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.operator_enabled", newCfg.Logging.Operator.Enabled),
		)
	}

	if oldCfg.Telegram.OperatorChat != newCfg.Telegram.OperatorChat ||
		oldCfg.Telegram.Timeout != newCfg.Telegram.Timeout ||
		secretChanged(oldCfg.Telegram.Token, newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.operator_chat_set", strings.TrimSpace(newCfg.Telegram.OperatorChat) != ""),
		)
	}

	oSrc, nSrc := oldCfg.Source, newCfg.Source
	oSrc.APIKey, nSrc.APIKey = "", ""
	if oSrc != nSrc || secretChanged(oldCfg.Source.APIKey, newCfg.Source.APIKey) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.base_url", newCfg.Source.BaseURL),
			logx.String("source.season", newCfg.Source.Season),
			logx.Int("source.requests_per_minute", newCfg.Source.RequestsPerMinute),
			logx.Bool("source.api_key_set", strings.TrimSpace(newCfg.Source.APIKey) != ""),
		)
	}

	oc, nc := oldCfg.Composer, newCfg.Composer
	oc.OpenAI.APIKey, nc.OpenAI.APIKey = "", ""
	if oc != nc || secretChanged(oldCfg.Composer.OpenAI.APIKey, newCfg.Composer.OpenAI.APIKey) {
		changed = append(changed, "composer")
		attrs = append(attrs,
			logx.String("composer.backend", newCfg.Composer.Backend),
			logx.String("composer.openai.model", newCfg.Composer.OpenAI.Model),
		)
	}

	oa, na := oldCfg.Actor, newCfg.Actor
	oa.Password, na.Password = "", ""
	if !reflect.DeepEqual(oa, na) || secretChanged(oldCfg.Actor.Password, newCfg.Actor.Password) {
		changed = append(changed, "actor")
		attrs = append(attrs,
			logx.String("actor.command", newCfg.Actor.Command),
			logx.Int("actor.args", len(newCfg.Actor.Args)),
			logx.Bool("actor.username_set", strings.TrimSpace(newCfg.Actor.Username) != ""),
		)
	}

	if oldCfg.Tracker != newCfg.Tracker {
		changed = append(changed, "tracker")
		attrs = append(attrs,
			logx.String("tracker.schedule", newCfg.Tracker.Schedule),
			logx.String("tracker.entity_pacing", newCfg.Tracker.EntityPacing),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	od, nd := oldCfg.Diagnostics, newCfg.Diagnostics
	od.Token, nd.Token = "", ""
	if od != nd || secretChanged(oldCfg.Diagnostics.Token, newCfg.Diagnostics.Token) {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", newCfg.Diagnostics.Enabled),
			logx.String("diagnostics.addr", newCfg.Diagnostics.Addr),
			logx.Bool("diagnostics.token_set", strings.TrimSpace(newCfg.Diagnostics.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Rivalries, newCfg.Rivalries) {
		changed = append(changed, "rivalries")
		attrs = append(attrs, logx.Int("rivalries.count", len(newCfg.Rivalries)))
	}

	sort.Strings(changed)
	return changed, attrs
}

func secretChanged(a, b string) bool {
	return strings.TrimSpace(a) != strings.TrimSpace(b)
}
