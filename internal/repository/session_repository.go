package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// SessionRepo implements SessionRepository with sqlx
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new SessionRepo instance
func NewSessionRepository(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create inserts a new session. Expiry is stored as unix milliseconds.
func (r *SessionRepo) Create(ctx context.Context, session *Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO sessions (token_hash, expires_at, created_at)
		VALUES (?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		session.TokenHash,
		session.ExpiresAt.UnixMilli(),
		NewTimestamp(session.CreatedAt),
	)
	return err
}

// GetByTokenHash retrieves a session by its token hash
func (r *SessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	query := r.db.Rebind(`
		SELECT token_hash, expires_at, created_at
		FROM sessions
		WHERE token_hash = ?
	`)

	var (
		session   Session
		expiresAt int64
		createdAt Timestamp
	)
	err := r.db.QueryRowxContext(ctx, query, tokenHash).Scan(&session.TokenHash, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	session.CreatedAt = createdAt.Time
	return &session, nil
}

// DeleteByTokenHash removes a session by its token hash
func (r *SessionRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM sessions WHERE token_hash = ?`), tokenHash)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrSessionNotFound)
}

// CleanupExpiredSessions removes all sessions expired at now
func (r *SessionRepo) CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
