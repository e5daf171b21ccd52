package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// OrphanCleanupConfig holds configuration for the orphan cleanup job
type OrphanCleanupConfig struct {
	Interval     time.Duration // Interval between cleanup runs (default: 24 hours)
	AgeThreshold time.Duration // Objects younger than this are never removed (default: 1 hour)
	BatchSize    int           // Number of objects to check per batch (default: 500)
	Enabled      bool
}

// DefaultOrphanCleanupConfig returns default configuration
func DefaultOrphanCleanupConfig() OrphanCleanupConfig {
	return OrphanCleanupConfig{
		Interval:     24 * time.Hour,
		AgeThreshold: time.Hour,
		BatchSize:    500,
		Enabled:      true,
	}
}

// CheckInChecker reports which check-in ids still exist
type CheckInChecker interface {
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// OrphanCleanupJob removes thumbnail objects whose check-in row is gone.
// Orphans appear when a record is deleted while its thumbnail upload is
// still in flight, or when an object delete fails after the row delete.
type OrphanCleanupJob struct {
	storage  *StorageService
	checker  CheckInChecker
	config   OrphanCleanupConfig
	logger   *slog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu         sync.Mutex
	running    bool
	lastResult *CleanupResult
}

// CleanupResult holds the result of a cleanup run
type CleanupResult struct {
	StartTime      time.Time
	EndTime        time.Time
	ObjectsScanned int
	OrphansFound   int
	OrphansDeleted int
	Errors         []string
}

// NewOrphanCleanupJob creates a new orphan cleanup job
func NewOrphanCleanupJob(storage *StorageService, checker CheckInChecker, config OrphanCleanupConfig, logger *slog.Logger) *OrphanCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	return &OrphanCleanupJob{
		storage: storage,
		checker: checker,
		config:  config,
		logger:  logger,
	}
}

// Start begins the periodic cleanup job
func (j *OrphanCleanupJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("cleanup job is already running")
	}
	if !j.config.Enabled {
		j.logger.Info("Thumbnail orphan cleanup is disabled")
		return nil
	}

	j.running = true
	j.stopChan = make(chan struct{})
	j.wg.Add(1)
	go j.run()

	j.logger.Info("Thumbnail orphan cleanup started",
		"interval", j.config.Interval,
		"age_threshold", j.config.AgeThreshold)
	return nil
}

// Stop stops the periodic cleanup job
func (j *OrphanCleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopChan)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("Thumbnail orphan cleanup stopped")
}

// GetLastResult returns the result of the last cleanup run
func (j *OrphanCleanupJob) GetLastResult() *CleanupResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastResult
}

func (j *OrphanCleanupJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			j.RunNow(ctx)
			cancel()
		case <-j.stopChan:
			return
		}
	}
}

// RunNow performs a single cleanup run
func (j *OrphanCleanupJob) RunNow(ctx context.Context) *CleanupResult {
	result := &CleanupResult{StartTime: time.Now()}

	orphans, scanned, err := j.findOrphans(ctx)
	result.ObjectsScanned = scanned
	result.OrphansFound = len(orphans)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("error finding orphans: %v", err))
	}

	if len(orphans) > 0 {
		deleted, err := j.storage.DeleteByKeys(ctx, orphans)
		result.OrphansDeleted = deleted
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	result.EndTime = time.Now()

	j.mu.Lock()
	j.lastResult = result
	j.mu.Unlock()

	j.logger.Info("Thumbnail orphan cleanup completed",
		"scanned", result.ObjectsScanned,
		"found", result.OrphansFound,
		"deleted", result.OrphansDeleted,
		"errors", len(result.Errors),
		"duration", result.EndTime.Sub(result.StartTime))

	return result
}

// findOrphans lists thumbnail objects older than the age threshold and
// returns the keys whose check-in no longer exists
func (j *OrphanCleanupJob) findOrphans(ctx context.Context) ([]string, int, error) {
	var (
		orphans []string
		scanned int
		batch   []string
	)
	cutoff := time.Now().Add(-j.config.AgeThreshold)

	flush := func() error {
		found, err := j.checkBatch(ctx, batch)
		batch = batch[:0]
		if err != nil {
			return err
		}
		orphans = append(orphans, found...)
		return nil
	}

	paginator := s3.NewListObjectsV2Paginator(j.storage.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(j.storage.bucket),
		Prefix: aws.String(j.storage.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return orphans, scanned, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			scanned++
			if obj.Key == nil {
				continue
			}
			if obj.LastModified != nil && obj.LastModified.After(cutoff) {
				continue
			}

			batch = append(batch, *obj.Key)
			if len(batch) >= j.config.BatchSize {
				if err := flush(); err != nil {
					return orphans, scanned, err
				}
			}
		}
	}

	if len(batch) > 0 {
		if err := flush(); err != nil {
			return orphans, scanned, err
		}
	}
	return orphans, scanned, nil
}

func (j *OrphanCleanupJob) checkBatch(ctx context.Context, keys []string) ([]string, error) {
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = j.storage.IDFromKey(key)
	}

	existing, err := j.checker.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check check-ins: %w", err)
	}

	var orphans []string
	for i, key := range keys {
		if !existing[ids[i]] {
			orphans = append(orphans, key)
		}
	}
	return orphans, nil
}
