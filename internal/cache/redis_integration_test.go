//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(context.Background())
	})

	return client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	client := setupRedis(t)
	s := NewRedisStore(client, RedisConfig{Prefix: "querygate-test"})
	ctx := context.Background()

	if _, hit, err := s.Get(ctx, "q:missing"); err != nil || hit {
		t.Fatalf("expected clean miss, hit=%v err=%v", hit, err)
	}

	if err := s.Set(ctx, "q:k", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := s.Get(ctx, "q:k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit || string(got) != "payload" {
		t.Fatalf("round trip: hit=%v got=%q", hit, got)
	}

	// The deployment prefix must be applied on the wire.
	raw, err := client.Get(ctx, "querygate-test:q:k").Bytes()
	if err != nil {
		t.Fatalf("prefixed key not found: %v", err)
	}
	if string(raw) != "payload" {
		t.Fatalf("unexpected raw value: %q", raw)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	client := setupRedis(t)
	s := NewRedisStore(client, RedisConfig{Prefix: "querygate-test"})
	ctx := context.Background()

	if err := s.Set(ctx, "q:short", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if _, hit, err := s.Get(ctx, "q:short"); err != nil || hit {
		t.Fatalf("expected engine-evicted miss, hit=%v err=%v", hit, err)
	}
}

func TestRedisStoreResponseCache(t *testing.T) {
	client := setupRedis(t)
	rc := NewResponseCache(NewRedisStore(client, RedisConfig{Prefix: "querygate-test"}))
	ctx := context.Background()

	entry := &Entry{Status: 200, ContentType: "application/json", Body: []byte(`{"data":{}}`), TTLSeconds: 30}
	if err := rc.Store(ctx, "abc", entry); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, hit, err := rc.Lookup(ctx, "abc")
	if err != nil || !hit {
		t.Fatalf("Lookup: hit=%v err=%v", hit, err)
	}
	if string(got.Body) != string(entry.Body) {
		t.Fatalf("body changed through redis: %s", got.Body)
	}
}
