package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrReauthRequired means the session is gone and the save was abandoned
	ErrReauthRequired = errors.New("re-authentication required")
	// ErrNoCompositor is returned by Share when no Compositor is configured
	ErrNoCompositor = errors.New("no compositor configured")
)

// State is the save state machine position
type State int

const (
	StateIdle State = iota
	StateSavingRecord
	StateSaved
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSavingRecord:
		return "saving_record"
	case StateSaved:
		return "saved"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Outcome is the result of a completed save
type Outcome int

const (
	OutcomeSaved Outcome = iota
	OutcomeSavedWithoutThumbnail
)

func (o Outcome) String() string {
	if o == OutcomeSavedWithoutThumbnail {
		return "saved_without_thumbnail"
	}
	return "saved"
}

// Defaults for marker loading
const (
	DefaultMarkerPageLimit   = 100
	DefaultMarkerConcurrency = 4
)

// SyncAPI is the subset of Client used by the Orchestrator
type SyncAPI interface {
	SaveCheckIn(ctx context.Context, in CheckInInput) (*SaveResult, error)
	AttachThumbnail(ctx context.Context, id, thumbnail string) (*AttachResult, error)
	GetCheckIns(ctx context.Context, page, limit int) (*Page, error)
}

// SaveReport describes a finished save
type SaveReport struct {
	Record  SaveResult
	Outcome Outcome
}

// Marker is one map point
type Marker struct {
	ID           string
	LocationName string
	Latitude     float64
	Longitude    float64
	Category     string
}

// OrchestratorConfig configures an Orchestrator
type OrchestratorConfig struct {
	// Refresh runs after every successful save
	Refresh           func(ctx context.Context)
	Compressor        Compressor
	Compositor        Compositor
	Markers           MarkerSink
	MarkerPageLimit   int
	MarkerConcurrency int
}

// Orchestrator drives the two-phase save and map marker loading. Saves are
// not serialized; Busy reports whether any is running.
type Orchestrator struct {
	api    SyncAPI
	tokens TokenStore
	cfg    OrchestratorConfig
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	busy   atomic.Int32
	shares ShareCounter
}

// NewOrchestrator creates an Orchestrator in the Idle state
func NewOrchestrator(api SyncAPI, tokens TokenStore, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MarkerPageLimit <= 0 {
		cfg.MarkerPageLimit = DefaultMarkerPageLimit
	}
	if cfg.MarkerConcurrency <= 0 {
		cfg.MarkerConcurrency = DefaultMarkerConcurrency
	}
	return &Orchestrator{api: api, tokens: tokens, cfg: cfg, logger: logger}
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a save is in progress
func (o *Orchestrator) Busy() bool {
	return o.busy.Load() > 0
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Save writes the record, then attaches the thumbnail in a second request.
// A failed attach leaves the record in place and yields
// OutcomeSavedWithoutThumbnail. AUTH_REQUIRED on the first phase clears
// the token and returns ErrReauthRequired.
func (o *Orchestrator) Save(ctx context.Context, in CheckInInput, image string) (*SaveReport, error) {
	if o.tokens.Token() == "" {
		o.setState(StateUnauthenticated)
		return nil, ErrReauthRequired
	}

	o.busy.Add(1)
	defer o.busy.Add(-1)

	o.setState(StateSavingRecord)
	record, err := o.api.SaveCheckIn(ctx, in)
	if err != nil {
		if IsAuthRequired(err) {
			o.tokens.Clear()
			o.setState(StateUnauthenticated)
			return nil, fmt.Errorf("%w: %w", ErrReauthRequired, err)
		}
		o.setState(StateIdle)
		return nil, err
	}
	o.setState(StateSaved)

	report := &SaveReport{Record: *record, Outcome: OutcomeSaved}
	if image != "" {
		if !o.attach(ctx, record.ID, image) {
			report.Outcome = OutcomeSavedWithoutThumbnail
		} else {
			report.Record.HasThumbnail = true
		}
	}

	if o.cfg.Refresh != nil {
		o.cfg.Refresh(ctx)
	}
	o.setState(StateIdle)
	return report, nil
}

func (o *Orchestrator) attach(ctx context.Context, id, image string) bool {
	thumbnail := image
	if o.cfg.Compressor != nil {
		compressed, err := o.cfg.Compressor.Compress(image, ThumbnailMaxDimension, ThumbnailQuality)
		if err != nil {
			o.logger.Warn("Thumbnail compression failed",
				"id", id,
				"error", err)
			return false
		}
		thumbnail = compressed
	}

	res, err := o.api.AttachThumbnail(ctx, id, thumbnail)
	if err != nil {
		o.logger.Warn("Thumbnail attach failed, record kept without image",
			"id", id,
			"error", err)
		return false
	}
	return res.HasThumbnail
}

// Share renders the shareable image for record and counts the share.
// Nothing is sent to the server.
func (o *Orchestrator) Share(photo string, record CheckIn) (string, error) {
	if o.cfg.Compositor == nil {
		return "", ErrNoCompositor
	}
	composed, err := o.cfg.Compositor.Compose(photo, record)
	if err != nil {
		return "", fmt.Errorf("failed to compose share image: %w", err)
	}
	o.shares.Increment()
	return composed, nil
}

// Shares returns how many shares succeeded
func (o *Orchestrator) Shares() int64 {
	return o.shares.Count()
}

// LoadMarkers reads every page of the listing and returns one marker per
// record. Pages fetched at different moments may overlap, so markers are
// deduplicated by id, or by coordinates for records without one. Points
// at (0,0) or with non-finite coordinates are skipped.
func (o *Orchestrator) LoadMarkers(ctx context.Context) ([]Marker, error) {
	first, err := o.api.GetCheckIns(ctx, 1, o.cfg.MarkerPageLimit)
	if err != nil {
		return nil, err
	}

	pages := make([][]CheckIn, max(first.TotalPages, 1))
	pages[0] = first.Items

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MarkerConcurrency)
	for i := 2; i <= first.TotalPages; i++ {
		page := i
		g.Go(func() error {
			p, err := o.api.GetCheckIns(gctx, page, o.cfg.MarkerPageLimit)
			if err != nil {
				return fmt.Errorf("failed to load page %d: %w", page, err)
			}
			pages[page-1] = p.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []CheckIn
	for _, p := range pages {
		items = append(items, p...)
	}
	markers := DedupMarkers(items)

	if o.cfg.Markers != nil {
		o.cfg.Markers.SetMarkers(markers)
	}
	return markers, nil
}

// DedupMarkers converts records to markers in order, keeping the first
// occurrence of each id or coordinate pair
func DedupMarkers(items []CheckIn) []Marker {
	seen := make(map[string]struct{}, len(items))
	markers := make([]Marker, 0, len(items))

	for _, item := range items {
		if !plottable(item.Latitude, item.Longitude) {
			continue
		}
		key := "id:" + item.ID
		if item.ID == "" {
			key = "at:" + strconv.FormatFloat(item.Latitude, 'g', -1, 64) +
				"," + strconv.FormatFloat(item.Longitude, 'g', -1, 64)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		markers = append(markers, Marker{
			ID:           item.ID,
			LocationName: item.LocationName,
			Latitude:     item.Latitude,
			Longitude:    item.Longitude,
			Category:     item.Category,
		})
	}
	return markers
}

func plottable(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat != 0 || lng != 0
}

// ShareCounter counts shares locally. It is never sent to the server.
type ShareCounter struct {
	n atomic.Int64
}

// Increment records one share and returns the new count
func (c *ShareCounter) Increment() int64 {
	return c.n.Add(1)
}

// Count returns the number of shares recorded
func (c *ShareCounter) Count() int64 {
	return c.n.Load()
}
