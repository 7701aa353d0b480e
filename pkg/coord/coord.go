// Package coord coordinates control points through Redis: per-device locks
// around state-changing operations, and publication of batch results for
// other consumers.
package coord

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/go-redis/redis/v8"
)

// Key prefixes. Keys follow the TABLE|key convention.
const (
	lockTable   = "NEWTFLEET_LOCK"
	resultTable = "NEWTFLEET_RESULT"
	batchTable  = "NEWTFLEET_BATCH"

	// ResultChannel receives one JSON message per finished target and one
	// per finished batch.
	ResultChannel = "newtfleet:results"
)

// Client wraps the Redis connection shared by Locker and Publisher.
type Client struct {
	client *redis.Client
}

// Dial connects to Redis at addr and checks the connection.
func Dial(ctx context.Context, addr string, db int) (*Client, error) {
	c := &Client{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// DefaultHolder identifies this process as a lock holder: user@host:pid.
func DefaultHolder() string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s@%s:%d", name, host, os.Getpid())
}

func key(table string, parts ...string) string {
	k := table
	for _, p := range parts {
		k += "|" + p
	}
	return k
}
