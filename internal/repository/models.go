package repository

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// timestampLayout is fixed width so stored values sort lexically
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Timestamp is a UTC instant stored as RFC 3339 text
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t normalized to UTC
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// String formats the timestamp as RFC 3339 with nanoseconds
func (t Timestamp) String() string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Value implements driver.Valuer
func (t Timestamp) Value() (driver.Value, error) {
	return t.UTC().Format(timestampLayout), nil
}

// Scan implements sql.Scanner
func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
}

func (t *Timestamp) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// CheckIn is one row of the check_ins table. Image data is never part of it.
type CheckIn struct {
	Seq          int64     `db:"seq" json:"-"`
	ID           string    `db:"id" json:"id"`
	LocationName string    `db:"location_name" json:"locationName"`
	Latitude     float64   `db:"latitude" json:"latitude"`
	Longitude    float64   `db:"longitude" json:"longitude"`
	Timestamp    Timestamp `db:"checked_in_at" json:"timestamp"`
	Description  string    `db:"description" json:"description"`
	Category     string    `db:"category" json:"category"`
	HasThumbnail bool      `db:"has_thumbnail" json:"hasThumbnail"`
}

// Session is a persisted login session keyed by the token's digest
type Session struct {
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired reports whether the session is past its expiry at now
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
