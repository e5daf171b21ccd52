package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SessionCleaner removes expired sessions
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type namedCleaner struct {
	name    string
	cleaner SessionCleaner
}

// Janitor periodically purges expired sessions so the table does not grow
// with tokens nobody presents again. Other expiring tables can ride along
// via Also.
type Janitor struct {
	cleaner  SessionCleaner
	extra    []namedCleaner
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	lastRun  time.Time
	removed  int64
}

// NewJanitor creates a janitor running every interval (default 30 minutes)
func NewJanitor(cleaner SessionCleaner, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Janitor{
		cleaner:  cleaner,
		interval: interval,
		logger:   logger,
	}
}

// Also adds another cleaner to every run. Call it before Start.
func (j *Janitor) Also(name string, cleaner SessionCleaner) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.extra = append(j.extra, namedCleaner{name: name, cleaner: cleaner})
}

// Start begins the periodic cleanup
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("session janitor is already running")
	}

	j.running = true
	j.stopChan = make(chan struct{})
	j.wg.Add(1)
	go j.run()

	j.logger.Info("Session janitor started", "interval", j.interval)
	return nil
}

// Stop halts the janitor and waits for an in-progress run
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopChan)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("Session janitor stopped")
}

// LastRun returns the time of the last run and the total sessions removed
func (j *Janitor) LastRun() (time.Time, int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun, j.removed
}

func (j *Janitor) run() {
	defer j.wg.Done()

	j.RunOnce()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce()
		case <-j.stopChan:
			return
		}
	}
}

// RunOnce performs a single cleanup pass
func (j *Janitor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	j.mu.Lock()
	extra := append([]namedCleaner(nil), j.extra...)
	j.mu.Unlock()

	for _, e := range extra {
		n, err := e.cleaner.CleanupExpired(ctx)
		if err != nil {
			j.logger.Error("Cleanup failed", "target", e.name, "error", err)
			continue
		}
		if n > 0 {
			j.logger.Info("Expired entries removed", "target", e.name, "count", n)
		}
	}

	n, err := j.cleaner.CleanupExpired(ctx)
	if err != nil {
		j.logger.Error("Session cleanup failed", "error", err)
		return
	}

	j.mu.Lock()
	j.lastRun = time.Now()
	j.removed += n
	j.mu.Unlock()

	if n > 0 {
		j.logger.Info("Expired sessions removed", "count", n)
	}
}
