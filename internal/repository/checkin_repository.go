package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Check-in repository errors
var (
	ErrCheckInNotFound = errors.New("check-in not found")
)

const checkInColumns = `seq, id, location_name, latitude, longitude, checked_in_at, description, category, has_thumbnail`

// CheckInRepository defines data access for the check_ins table
type CheckInRepository interface {
	Create(ctx context.Context, checkIn *CheckIn) error
	List(ctx context.Context, offset, limit int) ([]CheckIn, error)
	ListAll(ctx context.Context) ([]CheckIn, error)
	Count(ctx context.Context) (int, error)
	Exists(ctx context.Context, id string) (bool, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Delete(ctx context.Context, id string) error
	SetHasThumbnail(ctx context.Context, id string, has bool) error
	GetLegacyImage(ctx context.Context, id string) (string, error)
}

// CheckInRepo implements CheckInRepository with sqlx
type CheckInRepo struct {
	db *sqlx.DB
}

// NewCheckInRepo creates a new CheckInRepo instance
func NewCheckInRepo(db *sqlx.DB) *CheckInRepo {
	return &CheckInRepo{db: db}
}

// Create appends a row. The insertion sequence is assigned by the database.
func (r *CheckInRepo) Create(ctx context.Context, checkIn *CheckIn) error {
	query := r.db.Rebind(`
		INSERT INTO check_ins (id, location_name, latitude, longitude, checked_in_at, description, category, has_thumbnail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`)

	return r.db.QueryRowxContext(ctx, query,
		checkIn.ID,
		checkIn.LocationName,
		checkIn.Latitude,
		checkIn.Longitude,
		checkIn.Timestamp,
		checkIn.Description,
		checkIn.Category,
		checkIn.HasThumbnail,
	).Scan(&checkIn.Seq)
}

// List returns one window of rows, newest first
func (r *CheckInRepo) List(ctx context.Context, offset, limit int) ([]CheckIn, error) {
	query := r.db.Rebind(`SELECT ` + checkInColumns + `
		FROM check_ins
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`)

	checkIns := []CheckIn{}
	if err := r.db.SelectContext(ctx, &checkIns, query, limit, offset); err != nil {
		return nil, err
	}
	return checkIns, nil
}

// ListAll returns every row, newest first
func (r *CheckInRepo) ListAll(ctx context.Context) ([]CheckIn, error) {
	query := `SELECT ` + checkInColumns + ` FROM check_ins ORDER BY seq DESC`

	checkIns := []CheckIn{}
	if err := r.db.SelectContext(ctx, &checkIns, query); err != nil {
		return nil, err
	}
	return checkIns, nil
}

// Count returns the number of rows at call time
func (r *CheckInRepo) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM check_ins`); err != nil {
		return 0, err
	}
	return total, nil
}

// Exists reports whether a row with id is present
func (r *CheckInRepo) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM check_ins WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExistingIDs returns the subset of ids that have a row
func (r *CheckInRepo) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	query, args, err := sqlx.In(`SELECT id FROM check_ins WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var found []string
	if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// Delete removes the row with id
func (r *CheckInRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM check_ins WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrCheckInNotFound)
}

// SetHasThumbnail updates the thumbnail flag of an existing row
func (r *CheckInRepo) SetHasThumbnail(ctx context.Context, id string, has bool) error {
	result, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE check_ins SET has_thumbnail = ? WHERE id = ?`), has, id)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrCheckInNotFound)
}

// GetLegacyImage reads the inline image column kept by older deployments.
// An absent row or empty column yields "".
func (r *CheckInRepo) GetLegacyImage(ctx context.Context, id string) (string, error) {
	var image sql.NullString
	err := r.db.GetContext(ctx, &image, r.db.Rebind(`SELECT image FROM check_ins WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return image.String, nil
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
