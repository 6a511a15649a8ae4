// Package app wires configuration, logging, the counter source, composer,
// dispatcher and tracker loop into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"rivalbot/internal/compose"
	"rivalbot/internal/config"
	"rivalbot/internal/counter"
	"rivalbot/internal/dispatch"
	"rivalbot/internal/eventbus"
	"rivalbot/internal/observability/diag"
	"rivalbot/internal/rivalry"
	"rivalbot/internal/runtime/supervisor"
	"rivalbot/internal/storage"
	"rivalbot/internal/tracker"
	"rivalbot/internal/transport/telegram"
	logx "rivalbot/pkg/logx"
)

// Options are command line switches that alter the run.
type Options struct {
	Version string
	// Once runs a single cycle after the baseline instead of looping.
	Once bool
	// SimulateGoal rewinds every baseline by one so the first cycle notifies.
	SimulateGoal bool
}

type App struct {
	opts Options

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	registry   *rivalry.Registry
	dispatcher *dispatch.Dispatcher
	loop       *tracker.Loop
	rec        *recorder
	diag       *diag.Server
	startedAt  time.Time

	// stopAudit ends the recorder; Stop calls it once the tracker is done.
	stopAudit   context.CancelFunc
	trackerDone chan struct{}
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logCfg, err := mapLogConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sender logx.OperatorSender
	if cfg.Logging.Operator.Enabled {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout}, bootLog)
		if err != nil {
			return nil, err
		}
		sender = tg
	}
	logSvc, log := logx.New(logCfg, sender)
	log = log.With(logx.String("comp", "app"))

	a, err := build(cfg, opts, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

// build assembles every component from an already validated config.
func build(cfg *config.Config, opts Options, log logx.Logger) (*App, error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	copts, err := mapCounterOptions(cfg, log.With(logx.String("comp", "counter")))
	if err != nil {
		closeStore()
		return nil, err
	}
	src, err := counter.NewAPIFootball(copts)
	if err != nil {
		closeStore()
		return nil, err
	}

	dcfg, err := mapDispatchConfig(cfg, opts.Version)
	if err != nil {
		closeStore()
		return nil, err
	}
	disp := dispatch.New(dcfg, log.With(logx.String("comp", "dispatch")))

	timing, err := mapTrackerTiming(cfg)
	if err != nil {
		closeStore()
		return nil, err
	}
	bus := eventbus.New()
	loop, err := tracker.New(tracker.Options{
		Registry:       registry,
		Source:         src,
		Composer:       compose.New(cfg.Composer, log.With(logx.String("comp", "compose"))),
		Notifier:       disp,
		Schedule:       timing.schedule,
		EntityPacing:   timing.entityPacing,
		BaselinePacing: timing.baselinePacing,
		Log:            log,
		Bus:            bus,
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	a := &App{
		opts:       opts,
		log:        log,
		bus:        bus,
		store:      store,
		registry:   registry,
		dispatcher: disp,
		loop:       loop,
		rec:        &recorder{store: store, log: log.With(logx.String("comp", "audit"))},
	}
	if d := cfg.Diagnostics; d.Enabled {
		a.diag = diag.New(diag.Config{
			Addr:          d.Addr,
			Token:         d.Token,
			AllowInsecure: d.AllowInsecure,
			Pprof:         d.Pprof,
		}, func() any { return a.Status() }, log.With(logx.String("comp", "diag")))
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start takes the baseline of every entity and launches background work.
// A baseline failure is returned as a startup error.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.startedAt = time.Now()
	events, unsub := a.bus.Subscribe(128)
	auditCtx, stopAudit := context.WithCancel(context.WithoutCancel(ctx))
	a.stopAudit = stopAudit
	a.sup.Go("audit", func(context.Context) error {
		defer unsub()
		// Outlives the supervisor context so events published while the
		// tracker unwinds are still recorded.
		return a.rec.run(auditCtx, events)
	})
	if a.diag != nil {
		// Diagnostics are optional; a bind failure is retried, never fatal.
		a.sup.GoRestart("diagnostics", a.diag.Serve,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.followConfig(c, sub)
			return nil
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch)
	}

	a.log.Info("taking baseline", logx.Int("entities", a.registry.Len()))
	if err := a.loop.Init(a.sup.Context()); err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	if a.opts.SimulateGoal {
		a.loop.SimulateActivity()
	}

	sdNotify(a.log, daemon.SdNotifyReady)
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return watchdog(c, a.log) })

	if !a.opts.Once {
		done := make(chan struct{})
		a.trackerDone = done
		a.sup.Go("tracker", func(c context.Context) error {
			defer close(done)
			return a.loop.Run(c)
		})
	}
	a.log.Info("app started", logx.Bool("once", a.opts.Once), logx.Bool("simulate_goal", a.opts.SimulateGoal))
	return nil
}

// RunCycle runs one detection cycle in the caller's goroutine.
func (a *App) RunCycle(ctx context.Context) tracker.CycleReport {
	return a.loop.RunCycle(ctx)
}

// Status is the document served at /status.
type Status struct {
	Version       string               `json:"version"`
	StartedAt     time.Time            `json:"started_at"`
	Counters      map[string]int64     `json:"counters"`
	LastCycle     *tracker.CycleReport `json:"last_cycle,omitempty"`
	Tasks         []supervisor.Stats   `json:"tasks,omitempty"`
	DroppedEvents uint64               `json:"dropped_events"`
}

func (a *App) Status() Status {
	st := Status{
		Version:       a.opts.Version,
		StartedAt:     a.startedAt,
		Counters:      a.loop.State().Snapshot(),
		LastCycle:     a.rec.lastCycle(),
		DroppedEvents: eventbus.Dropped(a.bus),
	}
	if a.sup != nil {
		st.Tasks = a.sup.Snapshot()
	}
	return st
}

// RecentDeliveries reads the audit store, newest first.
func (a *App) RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentDeliveries(ctx, limit)
}

// followConfig applies logging changes live; every other section is only
// reported since it needs a restart.
func (a *App) followConfig(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			lastApplied = a.applyConfig(lastApplied, newCfg)
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) *config.Config {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return newCfg
	}
	for _, s := range sections {
		if s == "logging" {
			continue
		}
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}
	if a.logs != nil {
		lc, err := mapLogConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid logging config; keeping previous", logx.Err(err))
		} else {
			a.logs.Apply(lc)
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	return newCfg
}

// Stop tears the app down in order, bounding every step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// Kill any in-flight actor first so the tracker can unwind.
	a.step(ctx, "dispatcher", 6*time.Second, func(context.Context) error { return a.dispatcher.Close() })
	a.step(ctx, "tracker", 3*time.Second, a.waitTracker)
	if a.stopAudit != nil {
		a.stopAudit()
	}
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) waitTracker(ctx context.Context) error {
	if a.trackerDone == nil {
		return nil
	}
	select {
	case <-a.trackerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeResources releases what NewApp opened when Start was never called.
func (a *App) closeResources() {
	_ = a.dispatcher.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)))
	}
}
