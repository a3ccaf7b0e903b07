package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

// SettingsStore persists runtime-adjustable settings as JSON values.
type SettingsStore struct {
	db querier
}

const (
	settingUpsertSQL = `
INSERT INTO settings (key, value, updated_at)
VALUES (@key, @value::jsonb, NOW())
ON CONFLICT (key) DO UPDATE SET
    value = EXCLUDED.value,
    updated_at = NOW();
`

	settingSelectSQL = `
SELECT value
FROM settings
WHERE key = @key;
`
)

// Put stores value under key, replacing any previous value.
func (s *SettingsStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("settings store: key required")
	}
	args := pgx.NamedArgs{"key": key, "value": string(value)}
	if _, err := s.db.Exec(ctx, settingUpsertSQL, args); err != nil {
		return fmt.Errorf("settings store: put %s: %w", key, err)
	}
	return nil
}

// Get returns the stored value for key, or nil when the key is absent.
func (s *SettingsStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	err := s.db.QueryRow(ctx, settingSelectSQL, pgx.NamedArgs{"key": key}).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("settings store: get %s: %w", key, err)
	}
	return json.RawMessage(value), nil
}
