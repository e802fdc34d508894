package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"livermore/internal/model"
)

// ErrUserNotFound is returned when no users row matches.
var ErrUserNotFound = errors.New("user not found")

// UserSettings loads and, if needed, version-migrates a user's settings
// document. When the stored document fails even migration, the raw prior
// document is kept in place and the error is surfaced to the caller.
func (db *DB) UserSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx,
		`SELECT settings FROM users WHERE id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user settings: %w", err)
	}

	var s model.UserSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("settings document invalid: %w", err)
	}
	if s.Version != model.CurrentSettingsVersion {
		if err := model.MigrateSettings(&s); err != nil {
			return nil, fmt.Errorf("settings migration: %w", err)
		}
		if err := db.SaveUserSettings(ctx, userID, &s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// SaveUserSettings overwrites a user's settings document.
func (db *DB) SaveUserSettings(ctx context.Context, userID string, s *model.UserSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET settings = $2 WHERE id = $1`, userID, raw)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// LookupAPIKey resolves an active bearer key hash to its owning user id.
// The query is served by a partial unique index on active keys.
func (db *DB) LookupAPIKey(ctx context.Context, keyHash string) (string, error) {
	var userID string
	err := db.pool.QueryRow(ctx,
		`SELECT user_id FROM api_keys WHERE key_hash = $1 AND is_active`, keyHash).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	return userID, nil
}
