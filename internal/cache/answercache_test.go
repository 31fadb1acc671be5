package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKey_DeterministicAndCaseInsensitive(t *testing.T) {
	k1, err := Key("tenant-a", "  What is the refund policy?  ", map[string]any{"mode": "support"})
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	k2, err := Key("tenant-a", "what is the refund policy?", map[string]any{"mode": "support"})
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if k1 != k2 {
		t.Errorf("expected normalized keys to match: %q != %q", k1, k2)
	}
}

func TestKey_DifferentTenantsProduceDifferentKeys(t *testing.T) {
	k1, _ := Key("tenant-a", "hello", nil)
	k2, _ := Key("tenant-b", "hello", nil)
	if k1 == k2 {
		t.Error("expected different tenants to produce different keys")
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping redis-backed cache test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	return client
}

func TestAnswerCache_SetThenGet(t *testing.T) {
	client := newTestRedis(t)
	defer client.Close()
	c := NewAnswerCache(client, time.Minute, 10)
	ctx := context.Background()

	key, _ := Key("tenant-a", "hello", nil)
	type payload struct {
		Text string
	}
	if err := c.Set(ctx, key, payload{Text: "hi"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got payload
	ok, err := c.Get(ctx, key, &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got.Text != "hi" {
		t.Fatalf("got %+v, ok=%v", got, ok)
	}
}

func TestAnswerCache_EvictsOverCapacity(t *testing.T) {
	client := newTestRedis(t)
	defer client.Close()
	c := NewAnswerCache(client, time.Minute, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key, _ := Key("tenant-a", string(rune('a'+i)), nil)
		if err := c.Set(ctx, key, i); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	count, err := client.ZCard(ctx, c.recencyKey()).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if count > 2 {
		t.Errorf("recency set has %d entries, want <= 2", count)
	}
}
