package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// Settings repository errors
var (
	ErrSettingNotFound = errors.New("setting not found")
)

// SettingsRepository is a small key/value table for server-side settings
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// SettingsRepo implements SettingsRepository with sqlx
type SettingsRepo struct {
	db *sqlx.DB
}

// NewSettingsRepo creates a new SettingsRepo instance
func NewSettingsRepo(db *sqlx.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get returns the value for key or ErrSettingNotFound
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, r.db.Rebind(`SELECT value FROM settings WHERE key = ?`), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return value, nil
}

// Set inserts or overwrites key
func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	query := r.db.Rebind(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)

	_, err := r.db.ExecContext(ctx, query, key, value, NewTimestamp(time.Now()))
	return err
}
