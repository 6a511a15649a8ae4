package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at <path without ext>.deliveries.jsonl
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one dispatch attempt. Keep it compact and schema-stable.
type DeliveryRecord struct {
	At        time.Time `json:"at"`
	EntityID  string    `json:"entity_id"`
	Entity    string    `json:"entity"`
	Kind      string    `json:"kind"`
	Recipient string    `json:"recipient"`
	Count     int64     `json:"count"`
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
}
