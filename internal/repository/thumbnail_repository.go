package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ThumbnailRepo stores encoded thumbnails in the thumbnails table
type ThumbnailRepo struct {
	db *sqlx.DB
}

// NewThumbnailRepo creates a new ThumbnailRepo instance
func NewThumbnailRepo(db *sqlx.DB) *ThumbnailRepo {
	return &ThumbnailRepo{db: db}
}

// Put stores data for checkInID, replacing any previous thumbnail
func (r *ThumbnailRepo) Put(ctx context.Context, checkInID, data string) error {
	query := r.db.Rebind(`
		INSERT INTO thumbnails (check_in_id, data, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (check_in_id) DO UPDATE SET data = excluded.data, created_at = excluded.created_at
	`)

	_, err := r.db.ExecContext(ctx, query, checkInID, data, NewTimestamp(time.Now()))
	return err
}

// Get returns the stored thumbnail or "" when there is none
func (r *ThumbnailRepo) Get(ctx context.Context, checkInID string) (string, error) {
	var data string
	err := r.db.GetContext(ctx, &data,
		r.db.Rebind(`SELECT data FROM thumbnails WHERE check_in_id = ?`), checkInID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return data, nil
}

// Delete removes the thumbnail for checkInID. A missing thumbnail is not an error.
func (r *ThumbnailRepo) Delete(ctx context.Context, checkInID string) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM thumbnails WHERE check_in_id = ?`), checkInID)
	return err
}
