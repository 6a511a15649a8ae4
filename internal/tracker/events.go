package tracker

import "time"

// Event types published on the bus.
const (
	EventCycle          = "tracker.cycle"
	EventIncrease       = "counter.increase"
	EventReadFailed     = "counter.read_failed"
	EventDeliverySent   = "delivery.sent"
	EventDeliveryFailed = "delivery.failed"
)

type Increase struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	From     int64  `json:"from"`
	To       int64  `json:"to"`
}

type ReadFailure struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Error    string `json:"error"`
}

// Delivery is published once per dispatch attempt.
type Delivery struct {
	At        time.Time `json:"at"`
	EntityID  string    `json:"entity_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Recipient string    `json:"recipient"`
	Count     int64     `json:"count"`
	Message   string    `json:"message"`
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CycleReport summarizes one pass over the registry.
type CycleReport struct {
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Checked   int           `json:"checked"`
	Skipped   int           `json:"skipped"`
	Increased int           `json:"increased"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Canceled  bool          `json:"canceled,omitempty"`
}
