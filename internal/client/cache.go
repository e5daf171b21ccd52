package client

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ThumbnailFetcher loads one thumbnail by record id
type ThumbnailFetcher interface {
	GetThumbnail(ctx context.Context, id string) (string, error)
}

// ApplyFunc receives a fetched thumbnail, which may be empty when the
// record has none
type ApplyFunc func(id, thumbnail string)

// ThumbnailCache lazily fetches thumbnails for ids that became visible and
// memoizes them for its lifetime. A failed id stays empty until a new cache
// is created.
type ThumbnailCache struct {
	fetcher ThumbnailFetcher
	group   singleflight.Group
	logger  *slog.Logger

	mu       sync.Mutex
	cache    map[string]string
	inflight map[string]struct{}
	failed   map[string]struct{}
	watchers map[string][]ApplyFunc
	fetches  int

	wg sync.WaitGroup
}

// NewThumbnailCache creates an empty cache over fetcher
func NewThumbnailCache(fetcher ThumbnailFetcher, logger *slog.Logger) *ThumbnailCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThumbnailCache{
		fetcher:  fetcher,
		logger:   logger,
		cache:    make(map[string]string),
		inflight: make(map[string]struct{}),
		failed:   make(map[string]struct{}),
		watchers: make(map[string][]ApplyFunc),
	}
}

// Watch registers apply for id. A cached thumbnail is applied immediately;
// otherwise apply runs once the id is marked visible and fetched.
func (c *ThumbnailCache) Watch(id string, apply ApplyFunc) {
	c.mu.Lock()
	if thumb, ok := c.cache[id]; ok {
		c.mu.Unlock()
		apply(id, thumb)
		return
	}
	if _, failed := c.failed[id]; failed {
		c.mu.Unlock()
		return
	}
	c.watchers[id] = append(c.watchers[id], apply)
	c.mu.Unlock()
}

// MarkVisible starts a fetch for every id that is neither cached, failed
// nor already in flight. Callers may mark ids slightly before they are on
// screen to prefetch.
func (c *ThumbnailCache) MarkVisible(ctx context.Context, ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.cache[id]; ok {
			continue
		}
		if _, ok := c.failed[id]; ok {
			continue
		}
		if _, ok := c.inflight[id]; ok {
			continue
		}
		c.inflight[id] = struct{}{}
		c.fetches++
		c.wg.Add(1)
		go c.fetch(ctx, id)
	}
}

// Request watches id and marks it visible in one call
func (c *ThumbnailCache) Request(ctx context.Context, id string, apply ApplyFunc) {
	c.Watch(id, apply)
	c.MarkVisible(ctx, id)
}

// Get returns the cached thumbnail for id
func (c *ThumbnailCache) Get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	thumb, ok := c.cache[id]
	return thumb, ok
}

// Failed reports whether the fetch for id failed
func (c *ThumbnailCache) Failed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.failed[id]
	return ok
}

// Fetches returns the number of fetches started
func (c *ThumbnailCache) Fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

// Wait blocks until all started fetches have finished
func (c *ThumbnailCache) Wait() {
	c.wg.Wait()
}

func (c *ThumbnailCache) fetch(ctx context.Context, id string) {
	defer c.wg.Done()

	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.fetcher.GetThumbnail(ctx, id)
	})

	c.mu.Lock()
	delete(c.inflight, id)
	watchers := c.watchers[id]
	delete(c.watchers, id)
	if err != nil {
		c.failed[id] = struct{}{}
		c.mu.Unlock()
		c.logger.Warn("Thumbnail fetch failed",
			"id", id,
			"error", err)
		return
	}
	thumb, _ := v.(string)
	c.cache[id] = thumb
	c.mu.Unlock()

	for _, apply := range watchers {
		apply(id, thumb)
	}
}
