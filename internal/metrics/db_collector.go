package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// DBStatsCollector publishes sql.DB pool statistics
type DBStatsCollector struct {
	db       *sql.DB
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDBStatsCollector creates a new database stats collector
func NewDBStatsCollector(db *sql.DB, logger *slog.Logger) *DBStatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBStatsCollector{
		db:     db,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting database statistics at regular intervals
func (c *DBStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.logger.Info("Database stats collector started", "interval", interval)
}

// Stop stops the database stats collector
func (c *DBStatsCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.logger.Info("Database stats collector stopped")
	})
}

// Collect updates the pool gauges once
func (c *DBStatsCollector) Collect() {
	stats := c.db.Stats()
	DBConnectionsOpen.Set(float64(stats.OpenConnections))
	DBConnectionsInUse.Set(float64(stats.InUse))
	DBConnectionsIdle.Set(float64(stats.Idle))
	DBConnectionsMaxOpen.Set(float64(stats.MaxOpenConnections))
}

// PingDatabase checks database connectivity and records the latency
func PingDatabase(ctx context.Context, db *sql.DB) error {
	start := time.Now()
	err := db.PingContext(ctx)
	DBPingDuration.Observe(time.Since(start).Seconds())
	return err
}
