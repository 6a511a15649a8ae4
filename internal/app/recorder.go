package app

import (
	"context"
	"sync/atomic"
	"time"

	"rivalbot/internal/eventbus"
	"rivalbot/internal/storage"
	"rivalbot/internal/tracker"
	logx "rivalbot/pkg/logx"
)

// recorder follows the event bus, logs every event at debug level and appends
// delivery attempts to the audit store when one is configured.
type recorder struct {
	store storage.Store
	log   logx.Logger
	last  atomic.Pointer[tracker.CycleReport]
}

func (r *recorder) lastCycle() *tracker.CycleReport { return r.last.Load() }

// run records events until ctx is done, then records whatever is already
// buffered before returning.
func (r *recorder) run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(events)
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(e)
		}
	}
}

func (r *recorder) drain(events <-chan eventbus.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			r.handle(e)
		default:
			return
		}
	}
}

func (r *recorder) handle(e eventbus.Event) {
	r.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	switch d := e.Data.(type) {
	case tracker.CycleReport:
		r.last.Store(&d)
	case tracker.Delivery:
		if r.store != nil {
			r.append(d)
		}
	}
}

func (r *recorder) append(d tracker.Delivery) {
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.store.AppendDelivery(wctx, deliveryRecord(d))
	if err != nil {
		r.log.Warn("audit append failed", logx.String("entity", d.EntityID), logx.Err(err))
	}
}

func deliveryRecord(d tracker.Delivery) storage.DeliveryRecord {
	return storage.DeliveryRecord{
		At:        d.At,
		EntityID:  d.EntityID,
		Entity:    d.Name,
		Kind:      d.Kind,
		Recipient: d.Recipient,
		Count:     d.Count,
		OK:        d.OK,
		Reason:    d.Reason,
		Error:     d.Error,
		Message:   d.Message,
	}
}
