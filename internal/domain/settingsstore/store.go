// Package settingsstore defines persistence contracts for runtime-adjustable settings.
package settingsstore

import (
	"context"

	json "github.com/goccy/go-json"
)

// Keys for persisted settings.
const (
	KeyDropThresholdPct = "drop_threshold_pct"
	KeyAdmin            = "admin"
)

// Tx encapsulates settings mutations executed within a single ledger transaction.
type Tx interface {
	Put(ctx context.Context, key string, value json.RawMessage) error
	Get(ctx context.Context, key string) (json.RawMessage, error)
}

// Store defines the read-side contract for settings.
type Store interface {
	// Get returns the stored value for key, or nil when the key is absent.
	Get(ctx context.Context, key string) (json.RawMessage, error)
}
