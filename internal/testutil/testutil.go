//go:build integration

// Package testutil holds helpers for the Redis-backed integration tests.
// Point NEWTFLEET_TEST_REDIS_ADDR at a disposable instance; tests flush DB.
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// DB is the database integration tests own.
const DB = 9

const defaultAddr = "127.0.0.1:6379"

// RedisAddr is the test Redis address.
func RedisAddr() string {
	if addr := os.Getenv("NEWTFLEET_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return defaultAddr
}

// Context returns a 30s context cancelled at cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Redis returns a client on the flushed test DB, skipping the test when no
// server answers.
func Redis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        RedisAddr(),
		DB:          DB,
		DialTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { client.Close() })

	ctx := Context(t)
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", RedisAddr(), err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flushing test DB: %v", err)
	}
	return client
}

// ReadEntry reads the hash stored under the "|"-joined key parts.
func ReadEntry(t *testing.T, client *redis.Client, parts ...string) map[string]string {
	t.Helper()
	k := strings.Join(parts, "|")
	vals, err := client.HGetAll(Context(t), k).Result()
	if err != nil {
		t.Fatalf("reading %s: %v", k, err)
	}
	return vals
}

// TTL returns the remaining lifetime of the "|"-joined key, failing the
// test if the key has none.
func TTL(t *testing.T, client *redis.Client, parts ...string) time.Duration {
	t.Helper()
	k := strings.Join(parts, "|")
	ttl, err := client.TTL(Context(t), k).Result()
	if err != nil {
		t.Fatalf("TTL %s: %v", k, err)
	}
	if ttl <= 0 {
		t.Fatalf("%s has no expiry (ttl %v)", k, ttl)
	}
	return ttl
}

// Receive collects n message payloads from sub.
func Receive(ctx context.Context, t *testing.T, sub *redis.PubSub, n int) []string {
	t.Helper()
	var payloads []string
	for len(payloads) < n {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			t.Fatalf("receiving message %d of %d: %v", len(payloads)+1, n, err)
		}
		payloads = append(payloads, msg.Payload)
	}
	return payloads
}
