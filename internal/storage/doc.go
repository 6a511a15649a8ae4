// Package storage keeps an append-only audit of delivery attempts.
//
// It is not counter persistence: baselines are always re-read at startup.
// Drivers: "file" (JSON Lines) and "sqlite" (modernc.org/sqlite, pure Go).
package storage
