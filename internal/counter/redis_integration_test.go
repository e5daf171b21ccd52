//go:build integration

package counter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	store := NewRedisStore(client, "koshare-test:"+uuid.NewString()+":")
	defer store.Reset(ctx, KeyLoginFailed)

	for i := int64(1); i <= 3; i++ {
		n, err := store.Increment(ctx, KeyLoginFailed, time.Hour)
		if err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if n != i {
			t.Errorf("expected %d, got %d", i, n)
		}
	}

	ttl, err := client.TTL(ctx, store.prefix+KeyLoginFailed).Result()
	if err != nil || ttl <= 0 {
		t.Errorf("expected a TTL on the window, got %v %v", ttl, err)
	}

	if err := store.Reset(ctx, KeyLoginFailed); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if n, _ := store.Get(ctx, KeyLoginFailed); n != 0 {
		t.Errorf("expected 0 after reset, got %d", n)
	}
}
