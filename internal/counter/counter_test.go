package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kosumphisai/koshare/backend/internal/database/databasetest"
)

// fakeClock is advanced manually by tests
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			s := NewMemoryStore()
			s.now = clock.Now
			return s
		},
		"sql": func(t *testing.T, clock *fakeClock) Store {
			s := NewSQLStore(databasetest.NewSQLite(t))
			s.now = clock.Now
			return s
		},
	}
}

func TestStore_IncrementGetReset(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{t: time.Unix(1700000000, 0)}
			store := factory(t, clock)

			if n, err := store.Get(ctx, KeyVisits); err != nil || n != 0 {
				t.Fatalf("expected 0 for absent key, got %d %v", n, err)
			}
			for i := int64(1); i <= 3; i++ {
				n, err := store.Increment(ctx, KeyVisits, 0)
				if err != nil {
					t.Fatalf("Increment failed: %v", err)
				}
				if n != i {
					t.Errorf("expected %d, got %d", i, n)
				}
			}
			if n, _ := store.Get(ctx, KeyVisits); n != 3 {
				t.Errorf("expected 3, got %d", n)
			}
			if err := store.Reset(ctx, KeyVisits); err != nil {
				t.Fatalf("Reset failed: %v", err)
			}
			if n, _ := store.Get(ctx, KeyVisits); n != 0 {
				t.Errorf("expected 0 after reset, got %d", n)
			}
		})
	}
}

func TestStore_WindowExpiry(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{t: time.Unix(1700000000, 0)}
			store := factory(t, clock)

			for i := 0; i < 4; i++ {
				if _, err := store.Increment(ctx, KeyLoginFailed, time.Hour); err != nil {
					t.Fatalf("Increment failed: %v", err)
				}
			}

			// Later increments do not extend the window.
			clock.Advance(59 * time.Minute)
			if n, _ := store.Increment(ctx, KeyLoginFailed, time.Hour); n != 5 {
				t.Errorf("expected 5 inside window, got %d", n)
			}

			clock.Advance(time.Minute)
			if n, _ := store.Get(ctx, KeyLoginFailed); n != 0 {
				t.Errorf("expected 0 after window, got %d", n)
			}
			if n, _ := store.Increment(ctx, KeyLoginFailed, time.Hour); n != 1 {
				t.Errorf("expected new window to start at 1, got %d", n)
			}
		})
	}
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{t: time.Unix(1700000000, 0)}
			store := factory(t, clock)

			const workers = 20
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := store.Increment(ctx, KeyVisits, 0); err != nil {
						t.Errorf("Increment failed: %v", err)
					}
				}()
			}
			wg.Wait()

			if n, _ := store.Get(ctx, KeyVisits); n != workers {
				t.Errorf("expected %d, got %d", workers, n)
			}
		})
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	store := NewMemoryStore()
	store.now = clock.Now
	ctx := context.Background()

	store.Increment(ctx, "a", time.Minute)
	store.Increment(ctx, "b", 0)
	clock.Advance(2 * time.Minute)

	if removed := store.Cleanup(); removed != 1 {
		t.Errorf("expected 1 entry removed, got %d", removed)
	}
	if n, _ := store.Get(ctx, "b"); n != 1 {
		t.Errorf("non-expiring entry lost: %d", n)
	}
}

func TestSQLStore_CleanupExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	store := NewSQLStore(databasetest.NewSQLite(t))
	store.now = clock.Now
	ctx := context.Background()

	store.Increment(ctx, "ratelimit:10.0.0.1", time.Minute)
	store.Increment(ctx, "ratelimit:10.0.0.2", time.Hour)
	store.Increment(ctx, KeyVisits, 0)
	clock.Advance(2 * time.Minute)

	removed, err := store.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 row removed, got %d", removed)
	}

	var rows int
	if err := store.db.GetContext(ctx, &rows, `SELECT COUNT(*) FROM counters`); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if rows != 2 {
		t.Errorf("expected 2 rows left, got %d", rows)
	}
	if n, _ := store.Get(ctx, KeyVisits); n != 1 {
		t.Errorf("non-expiring counter lost: %d", n)
	}
}

// The counter equals the number of increments since the last reset.
func TestProperty_MemoryStoreMatchesModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		keys := []string{KeyLoginFailed, KeyVisits}
		model := map[string]int64{}

		ops := rapid.SliceOfN(rapid.IntRange(0, 3), 1, 50).Draw(t, "ops")
		for _, op := range ops {
			key := keys[op%2]
			if op < 2 {
				n, _ := store.Increment(ctx, key, 0)
				model[key]++
				if n != model[key] {
					t.Fatalf("increment %s: got %d want %d", key, n, model[key])
				}
			} else {
				store.Reset(ctx, key)
				model[key] = 0
			}
		}
		for _, key := range keys {
			if n, _ := store.Get(ctx, key); n != model[key] {
				t.Fatalf("get %s: got %d want %d", key, n, model[key])
			}
		}
	})
}
