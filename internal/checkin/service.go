// Package checkin implements the record store adapter and pagination over
// check-ins, including the two-phase thumbnail save.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kosumphisai/koshare/backend/internal/counter"
	"github.com/kosumphisai/koshare/backend/internal/repository"
)

// Pagination bounds
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Service errors
var (
	ErrNotFound = errors.New("check-in not found")
)

// Observer receives domain events for metrics
type Observer interface {
	CheckInSaved(withThumbnail bool)
	CheckInDeleted()
	ThumbnailDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) CheckInSaved(bool)       {}
func (nopObserver) CheckInDeleted()         {}
func (nopObserver) ThumbnailDropped(string) {}

// Thumbnail drop reasons reported to the Observer
const (
	DropTooLarge   = "too_large"
	DropStoreError = "store_error"
)

// Config holds Service options
type Config struct {
	MaxThumbnailBytes int
	Now               func() time.Time
	NewID             func() string
}

// Service implements check-in operations over a record repository and a
// separate thumbnail store
type Service struct {
	records    repository.CheckInRepository
	thumbnails ThumbnailStore
	lookup     LookupChain
	counters   counter.Store
	observer   Observer
	logger     *slog.Logger

	maxThumbnailBytes int
	now               func() time.Time
	newID             func() string
}

// SaveResult echoes the stored record back to the caller
type SaveResult struct {
	ID           string    `json:"id"`
	LocationName string    `json:"locationName"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Timestamp    time.Time `json:"timestamp"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	HasThumbnail bool      `json:"hasThumbnail"`
}

func newSaveResult(row *repository.CheckIn) *SaveResult {
	return &SaveResult{
		ID:           row.ID,
		LocationName: row.LocationName,
		Latitude:     row.Latitude,
		Longitude:    row.Longitude,
		Timestamp:    row.Timestamp.Time,
		Description:  row.Description,
		Category:     row.Category,
	}
}

// AttachResult is returned by AttachThumbnail
type AttachResult struct {
	ID           string `json:"id"`
	HasThumbnail bool   `json:"hasThumbnail"`
}

// DeleteResult reports whether a row was removed. Deleted is false when the
// id did not exist.
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Page is one window of check-ins, newest first
type Page struct {
	Items      []repository.CheckIn `json:"items"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	Total      int                  `json:"total"`
	TotalPages int                  `json:"totalPages"`
}

// Stats holds the public counters
type Stats struct {
	VisitCount     int64 `json:"visitCount"`
	TotalLocations int   `json:"totalLocations"`
}

// NewService creates a new check-in service. Thumbnail lookups try the
// thumbnail store first, then the legacy inline image column.
func NewService(
	records repository.CheckInRepository,
	thumbnails ThumbnailStore,
	counters counter.Store,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxThumbnailBytes <= 0 {
		cfg.MaxThumbnailBytes = DefaultMaxThumbnailBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}

	return &Service{
		records:    records,
		thumbnails: thumbnails,
		lookup: LookupChain{
			thumbnails,
			ThumbnailSourceFunc(records.GetLegacyImage),
		},
		counters:          counters,
		observer:          nopObserver{},
		logger:            logger,
		maxThumbnailBytes: cfg.MaxThumbnailBytes,
		now:               cfg.Now,
		newID:             cfg.NewID,
	}
}

// SetObserver installs an Observer for domain events
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// Append validates and stores a check-in without a thumbnail
func (s *Service) Append(ctx context.Context, in NewCheckIn) (*SaveResult, error) {
	row, err := s.insert(ctx, in)
	if err != nil {
		return nil, err
	}
	s.observer.CheckInSaved(false)
	return newSaveResult(row), nil
}

// AppendWithThumbnail stores a check-in and then its thumbnail. The record
// is committed first; a thumbnail that is too large or fails to store is
// dropped and the result reports HasThumbnail=false.
func (s *Service) AppendWithThumbnail(ctx context.Context, in NewCheckIn, thumbnail string) (*SaveResult, error) {
	row, err := s.insert(ctx, in)
	if err != nil {
		return nil, err
	}

	result := newSaveResult(row)
	if thumbnail != "" {
		result.HasThumbnail = s.storeThumbnail(ctx, row.ID, thumbnail)
	}
	s.observer.CheckInSaved(result.HasThumbnail)
	return result, nil
}

// AttachThumbnail adds a thumbnail to an existing check-in. It returns
// ErrNotFound without keeping any data if the check-in does not exist or is
// deleted while the thumbnail is being stored.
func (s *Service) AttachThumbnail(ctx context.Context, id, thumbnail string) (*AttachResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newValidationError("id", "is required")
	}
	if thumbnail == "" {
		return nil, newValidationError("thumbnail", "is required")
	}

	exists, err := s.records.Exists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up check-in: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	result := &AttachResult{ID: id}
	if err := s.checkThumbnailSize(thumbnail); err != nil {
		s.dropThumbnail(id, DropTooLarge, err)
		return result, nil
	}

	if err := s.thumbnails.Put(ctx, id, thumbnail); err != nil {
		return nil, fmt.Errorf("failed to store thumbnail: %w", err)
	}
	if err := s.records.SetHasThumbnail(ctx, id, true); err != nil {
		if errors.Is(err, repository.ErrCheckInNotFound) {
			s.removeThumbnail(ctx, id)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to flag thumbnail: %w", err)
	}

	result.HasThumbnail = true
	return result, nil
}

// Query returns every check-in, newest first, without thumbnail data
func (s *Service) Query(ctx context.Context) ([]repository.CheckIn, error) {
	rows, err := s.records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return rows, nil
}

// List returns one page of check-ins. Non-positive page or limit fall back
// to the defaults and limit is capped at MaxLimit. A page past the end
// yields no items with accurate totals.
func (s *Service) List(ctx context.Context, page, limit int) (*Page, error) {
	page, limit = NormalizePage(page, limit)

	total, err := s.records.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count check-ins: %w", err)
	}

	result := &Page{
		Items:      []repository.CheckIn{},
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: TotalPages(total, limit),
	}

	offset := (page - 1) * limit
	if offset >= total {
		return result, nil
	}

	items, err := s.records.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	result.Items = items
	return result, nil
}

// NormalizePage applies pagination defaults and bounds
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// TotalPages returns ceil(total/limit)
func TotalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Delete removes a check-in and its thumbnail. Deleting an unknown id is
// reported through DeleteResult, not as an error.
func (s *Service) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newValidationError("id", "is required")
	}

	result := &DeleteResult{ID: id}
	err := s.records.Delete(ctx, id)
	switch {
	case errors.Is(err, repository.ErrCheckInNotFound):
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("failed to delete check-in: %w", err)
	}

	result.Deleted = true
	s.removeThumbnail(ctx, id)
	s.observer.CheckInDeleted()
	return result, nil
}

// GetThumbnail returns the thumbnail for id or "" when there is none
func (s *Service) GetThumbnail(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", newValidationError("id", "is required")
	}

	data, err := s.lookup.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to get thumbnail: %w", err)
	}
	return data, nil
}

// Stats returns the visit counter and the current number of check-ins
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	visits, err := s.counters.Get(ctx, counter.KeyVisits)
	if err != nil {
		return nil, fmt.Errorf("failed to read visit counter: %w", err)
	}
	total, err := s.records.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count check-ins: %w", err)
	}
	return &Stats{VisitCount: visits, TotalLocations: total}, nil
}

// IncrementVisit bumps the visit counter and returns the new value
func (s *Service) IncrementVisit(ctx context.Context) (int64, error) {
	n, err := s.counters.Increment(ctx, counter.KeyVisits, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to increment visit counter: %w", err)
	}
	return n, nil
}

func (s *Service) insert(ctx context.Context, in NewCheckIn) (*repository.CheckIn, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	row := &repository.CheckIn{
		ID:           s.newID(),
		LocationName: in.LocationName,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		Timestamp:    repository.NewTimestamp(s.now()),
		Description:  in.Description,
		Category:     in.Category,
	}
	if err := s.records.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to save check-in: %w", err)
	}
	return row, nil
}

// storeThumbnail is phase two of a combined save and never fails the save
func (s *Service) storeThumbnail(ctx context.Context, id, thumbnail string) bool {
	if err := s.checkThumbnailSize(thumbnail); err != nil {
		s.dropThumbnail(id, DropTooLarge, err)
		return false
	}
	if err := s.thumbnails.Put(ctx, id, thumbnail); err != nil {
		s.dropThumbnail(id, DropStoreError, err)
		return false
	}
	if err := s.records.SetHasThumbnail(ctx, id, true); err != nil {
		s.removeThumbnail(ctx, id)
		s.dropThumbnail(id, DropStoreError, err)
		return false
	}
	return true
}

func (s *Service) checkThumbnailSize(thumbnail string) error {
	if len(thumbnail) > s.maxThumbnailBytes {
		return &SizeLimitError{Size: len(thumbnail), Limit: s.maxThumbnailBytes}
	}
	return nil
}

func (s *Service) dropThumbnail(id, reason string, err error) {
	s.observer.ThumbnailDropped(reason)
	s.logger.Warn("Thumbnail dropped",
		"check_in_id", id,
		"reason", reason,
		"error", err)
}

func (s *Service) removeThumbnail(ctx context.Context, id string) {
	if err := s.thumbnails.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete thumbnail",
			"check_in_id", id,
			"error", err)
	}
}
