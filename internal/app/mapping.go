package app

import (
	"fmt"
	"strings"
	"time"

	"rivalbot/internal/config"
	"rivalbot/internal/counter"
	"rivalbot/internal/dispatch"
	"rivalbot/internal/rivalry"
	"rivalbot/internal/schedule"
	"rivalbot/internal/storage"
	logx "rivalbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) (logx.Config, error) {
	chatID, err := cfg.OperatorChatID()
	if err != nil {
		return logx.Config{}, err
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Operator.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Operator.ThreadID,
			MinLevel:   cfg.Logging.Operator.MinLevel,
			RatePerSec: cfg.Logging.Operator.RatePerSec,
		},
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapCounterOptions(cfg *config.Config, log logx.Logger) (counter.Options, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 15*time.Second)
	if err != nil {
		return counter.Options{}, err
	}
	return counter.Options{
		BaseURL:           cfg.Source.BaseURL,
		Host:              cfg.Source.Host,
		APIKey:            cfg.Source.APIKey,
		Season:            cfg.Source.Season,
		Timeout:           timeout,
		RequestsPerMinute: cfg.Source.RequestsPerMinute,
		Log:               log,
	}, nil
}

func mapDispatchConfig(cfg *config.Config, version string) (dispatch.Config, error) {
	readTimeout, err := config.ParseDurationOrDefault("actor.read_timeout", cfg.Actor.ReadTimeout, config.DefaultActorReadTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	startDelay, err := config.ParseDurationField("actor.start_delay", cfg.Actor.StartDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Command:     cfg.Actor.Command,
		Args:        cfg.Actor.Args,
		Dir:         cfg.Actor.Dir,
		Username:    cfg.Actor.Username,
		Password:    cfg.Actor.Password,
		ReadTimeout: readTimeout,
		StartDelay:  startDelay,
		ClientName:  "rivalbot",
		ClientVer:   version,
	}, nil
}

// buildRegistry uses the configured rivalries or, when none are listed, the
// built-in table.
func buildRegistry(cfg *config.Config) (*rivalry.Registry, error) {
	if len(cfg.Rivalries) == 0 {
		return rivalry.NewRegistry(rivalry.Defaults())
	}
	entities := make([]rivalry.Entity, 0, len(cfg.Rivalries))
	for i, r := range cfg.Rivalries {
		kind, err := rivalry.ParseKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("rivalries[%d]: %w", i, err)
		}
		entities = append(entities, rivalry.Entity{
			ID:        strings.TrimSpace(string(r.ID)),
			Name:      strings.TrimSpace(r.Name),
			Kind:      kind,
			RivalName: strings.TrimSpace(r.RivalName),
			Supports:  strings.TrimSpace(r.Supports),
			Recipient: strings.TrimSpace(r.Recipient),
			League:    strings.TrimSpace(string(r.League)),
		})
	}
	return rivalry.NewRegistry(entities)
}

type trackerTiming struct {
	schedule       schedule.Spec
	entityPacing   time.Duration
	baselinePacing time.Duration
}

func mapTrackerTiming(cfg *config.Config) (trackerTiming, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Tracker.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return trackerTiming{}, fmt.Errorf("tracker.timezone: %w", err)
		}
		loc = l
	}
	spec, err := schedule.ParseIn(cfg.Tracker.Schedule, loc)
	if err != nil {
		return trackerTiming{}, fmt.Errorf("tracker.schedule: %w", err)
	}
	entity, err := config.ParseDurationOrDefault("tracker.entity_pacing", cfg.Tracker.EntityPacing, config.DefaultEntityPacing)
	if err != nil {
		return trackerTiming{}, err
	}
	baseline, err := config.ParseDurationOrDefault("tracker.baseline_pacing", cfg.Tracker.BaselinePacing, config.DefaultBaselinePacing)
	if err != nil {
		return trackerTiming{}, err
	}
	return trackerTiming{schedule: spec, entityPacing: entity, baselinePacing: baseline}, nil
}
