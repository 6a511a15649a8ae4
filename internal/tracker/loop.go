// Package tracker polls counters, detects increases and sends at most one
// notification per detected increase.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rivalbot/internal/compose"
	"rivalbot/internal/counter"
	"rivalbot/internal/dispatch"
	"rivalbot/internal/eventbus"
	"rivalbot/internal/rivalry"
	"rivalbot/internal/schedule"
	logx "rivalbot/pkg/logx"
)

// Notifier delivers one message to one recipient.
type Notifier interface {
	Deliver(ctx context.Context, recipient, text string) error
}

type Options struct {
	Registry *rivalry.Registry
	Source   counter.Source
	Composer compose.Composer
	Notifier Notifier
	Schedule schedule.Spec

	// EntityPacing separates entities within a cycle.
	EntityPacing time.Duration
	// BaselinePacing separates entities during Init.
	BaselinePacing time.Duration

	Log logx.Logger
	Bus eventbus.Bus

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// FallbackInterval separates cycles when the schedule yields no next run.
const FallbackInterval = 5 * time.Minute

type Loop struct {
	opts  Options
	state *State
	log   logx.Logger
	bus   eventbus.Bus
}

func New(opts Options) (*Loop, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("tracker: registry required")
	case opts.Source == nil:
		return nil, errors.New("tracker: counter source required")
	case opts.Composer == nil:
		return nil, errors.New("tracker: composer required")
	case opts.Notifier == nil:
		return nil, errors.New("tracker: notifier required")
	}
	if opts.Schedule.Raw == "" {
		spec, err := schedule.Parse(FallbackInterval.String())
		if err != nil {
			return nil, err
		}
		opts.Schedule = spec
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Discard
	}
	return &Loop{
		opts:  opts,
		state: NewState(),
		log:   opts.Log.With(logx.String("comp", "tracker")),
		bus:   bus,
	}, nil
}

// State exposes the counters for observers.
func (l *Loop) State() *State { return l.state }

// Init reads a baseline for every entity. Any failure is fatal: without a
// baseline a first read cannot be told apart from an increase. An entity with
// no statistics yet for the season starts from zero.
func (l *Loop) Init(ctx context.Context) error {
	for i, e := range l.opts.Registry.All() {
		if i > 0 {
			if err := l.opts.Sleep(ctx, l.opts.BaselinePacing); err != nil {
				return err
			}
		}
		n, err := l.opts.Source.Count(ctx, e)
		switch {
		case errors.Is(err, counter.ErrNoData):
			l.log.Warn("no statistics yet; baseline 0", logx.String("entity", e.ID), logx.String("name", e.Name), logx.Err(err))
			n = 0
		case err != nil:
			return fmt.Errorf("baseline for %s (%s): %w", e.Name, e.ID, err)
		}
		l.state.Baseline(e.ID, n)
		l.log.Info("baseline",
			logx.String("entity", e.ID),
			logx.String("name", e.Name),
			logx.String("kind", string(e.Kind)),
			logx.Int64(e.Kind.Activity(), n),
		)
	}
	return nil
}

// SimulateActivity rewinds every baseline by one so the next cycle sees an
// increase for each entity.
func (l *Loop) SimulateActivity() {
	for _, e := range l.opts.Registry.All() {
		if n, ok := l.state.Rewind(e.ID, 1); ok {
			l.log.Warn("simulated activity",
				logx.String("entity", e.ID),
				logx.String("name", e.Name),
				logx.Int64("baseline", n),
			)
		}
	}
}

// Run cycles until ctx is canceled, waiting for the schedule between cycles.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("tracker started",
		logx.Int("entities", l.opts.Registry.Len()),
		logx.String("schedule", l.opts.Schedule.String()),
	)
	for {
		l.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		now := l.opts.Now()
		wait := l.opts.Schedule.Next(now).Sub(now)
		if wait <= 0 {
			// A schedule with no future activation must not spin.
			l.log.Warn("schedule has no next run; using fallback interval",
				logx.String("schedule", l.opts.Schedule.String()),
				logx.Duration("fallback", FallbackInterval),
			)
			wait = FallbackInterval
		}
		l.log.Debug("waiting for next cycle", logx.Duration("wait", wait))
		if err := l.opts.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// RunCycle checks every entity once, in registry order.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	rep := CycleReport{Started: l.opts.Now()}
	for i, e := range l.opts.Registry.All() {
		if i > 0 {
			if err := l.opts.Sleep(ctx, l.opts.EntityPacing); err != nil {
				rep.Canceled = true
				break
			}
		}
		l.check(ctx, e, &rep)
	}
	rep.Duration = l.opts.Now().Sub(rep.Started)
	l.bus.Publish(eventbus.Event{Type: EventCycle, Data: rep})
	l.log.Info("cycle done",
		logx.Int("checked", rep.Checked),
		logx.Int("skipped", rep.Skipped),
		logx.Int("increased", rep.Increased),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Duration),
	)
	return rep
}

func (l *Loop) check(ctx context.Context, e rivalry.Entity, rep *CycleReport) {
	log := l.log.With(logx.String("entity", e.ID), logx.String("name", e.Name))

	n, err := l.opts.Source.Count(ctx, e)
	if err != nil {
		rep.Skipped++
		log.Warn("counter read failed; skipping", logx.String("kind", errorKind(err)), logx.Err(err))
		l.bus.Publish(eventbus.Event{Type: EventReadFailed, Data: ReadFailure{EntityID: e.ID, Name: e.Name, Error: err.Error()}})
		return
	}
	rep.Checked++

	last, known := l.state.Get(e.ID)
	if !known {
		// Entity added after Init: its first read is a baseline, not an increase.
		l.state.Baseline(e.ID, n)
		log.Info("late baseline", logx.Int64(e.Kind.Activity(), n))
		return
	}
	if n <= last {
		if n < last {
			log.Warn("counter went down", logx.Int64("from", last), logx.Int64("to", n))
		} else {
			log.Debug("no new "+e.Kind.Activity(), logx.Int64("current", n))
		}
		l.state.Commit(e.ID, n)
		return
	}

	rep.Increased++
	log.Info(e.Kind.Singular()+" detected", logx.Int64("from", last), logx.Int64("to", n))
	l.bus.Publish(eventbus.Event{Type: EventIncrease, Data: Increase{
		EntityID: e.ID, Name: e.Name, Kind: string(e.Kind), From: last, To: n,
	}})

	text := l.opts.Composer.Compose(ctx, compose.Request{
		EntityName: e.Name,
		Supports:   e.Supports,
		Count:      n,
		Kind:       e.Kind,
	})
	d := Delivery{
		At:        l.opts.Now(),
		EntityID:  e.ID,
		Name:      e.Name,
		Kind:      string(e.Kind),
		Recipient: e.Recipient,
		Count:     n,
		Message:   text,
	}
	if err := l.opts.Notifier.Deliver(ctx, e.Recipient, text); err != nil {
		rep.Failed++
		d.Reason = errorKind(err)
		d.Error = err.Error()
		log.Error("notification failed", logx.String("recipient", e.Recipient), logx.String("kind", d.Reason), logx.Err(err))
		l.bus.Publish(eventbus.Event{Type: EventDeliveryFailed, Data: d})
	} else {
		rep.Delivered++
		d.OK = true
		log.Info("notification sent", logx.String("recipient", e.Recipient), logx.Int64("count", n))
		l.bus.Publish(eventbus.Event{Type: EventDeliverySent, Data: d})
	}

	// Committed whatever the outcome: a failed delivery is dropped, never repeated.
	l.state.Commit(e.ID, n)
}

func errorKind(err error) string {
	var de *dispatch.DeliveryError
	switch {
	case errors.As(err, &de):
		return "delivery_" + string(de.Reason)
	case errors.Is(err, counter.ErrNoData):
		return "counter_no_data"
	case errors.Is(err, counter.ErrReadFailed):
		return "counter_read_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
