package counter

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLStore implements Store on the counters table. Each operation is a
// single statement, so concurrent increments never lose updates.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLStore creates a SQLStore
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Increment adds one to key, restarting the window when it has expired
func (s *SQLStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
	}

	query := s.db.Rebind(`
		INSERT INTO counters (key, value, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN counters.expires_at IS NOT NULL AND counters.expires_at <= ? THEN 1
				ELSE counters.value + 1
			END,
			expires_at = CASE
				WHEN counters.expires_at IS NOT NULL AND counters.expires_at <= ? THEN excluded.expires_at
				ELSE counters.expires_at
			END
		RETURNING value
	`)

	var value int64
	nowMillis := now.UnixMilli()
	if err := s.db.GetContext(ctx, &value, query, key, expiresAt, nowMillis, nowMillis); err != nil {
		return 0, err
	}
	return value, nil
}

// Get returns the current value of key
func (s *SQLStore) Get(ctx context.Context, key string) (int64, error) {
	query := s.db.Rebind(`
		SELECT value FROM counters
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`)

	var value int64
	if err := s.db.GetContext(ctx, &value, query, key, s.now().UnixMilli()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

// Reset deletes key
func (s *SQLStore) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM counters WHERE key = ?`), key)
	return err
}

// CleanupExpired deletes counters whose window has passed and returns how
// many were removed
func (s *SQLStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM counters WHERE expires_at IS NOT NULL AND expires_at <= ?`),
		s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
