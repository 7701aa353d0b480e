package coord

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtfleet/pkg/batch"
	"github.com/newtron-network/newtfleet/pkg/util"
)

// acquireLockScript atomically takes the lock. Re-acquiring by the same
// holder refreshes the TTL. Returns 1 on success, 0 if held by another.
var acquireLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseLockScript deletes the lock only for its holder.
// Returns 1 on success, 0 on holder mismatch, -1 if the lock is gone.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
if redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// Locker is a batch.Locker backed by Redis. The lock for a device is the
// hash NEWTFLEET_LOCK|<device> with holder, acquired time, and TTL.
type Locker struct {
	c *Client
}

// NewLocker returns a Locker using c.
func NewLocker(c *Client) *Locker {
	return &Locker{c: c}
}

// Lock acquires the device lock. Contention returns util.ErrDeviceLocked
// naming the current holder.
func (l *Locker) Lock(ctx context.Context, device, holder string, ttl time.Duration) error {
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := acquireLockScript.Run(ctx, l.c.client, []string{key(lockTable, device)},
		holder, now, strconv.Itoa(secs)).Int()
	if err != nil {
		return fmt.Errorf("acquiring lock for %s: %w", device, err)
	}
	if result == 0 {
		current, since, _ := l.Holder(ctx, device)
		return fmt.Errorf("%w: %s holds %s since %s", util.ErrDeviceLocked, current, device, since.Format(time.RFC3339))
	}
	util.WithDevice(device).Debugf("Lock acquired by %s for %ds", holder, secs)
	return nil
}

// Unlock releases the device lock. A lock that already expired is not an
// error; one taken over by another holder is.
func (l *Locker) Unlock(ctx context.Context, device, holder string) error {
	result, err := releaseLockScript.Run(ctx, l.c.client, []string{key(lockTable, device)}, holder).Int()
	if err != nil {
		return fmt.Errorf("releasing lock for %s: %w", device, err)
	}
	switch result {
	case 0:
		return fmt.Errorf("lock holder mismatch for %s", device)
	case -1:
		util.WithDevice(device).Warn("Lock expired before release")
	}
	return nil
}

// Holder returns the current lock holder and acquisition time.
// Returns ("", zero, nil) if no lock is held.
func (l *Locker) Holder(ctx context.Context, device string) (string, time.Time, error) {
	vals, err := l.c.client.HGetAll(ctx, key(lockTable, device)).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("getting lock holder for %s: %w", device, err)
	}
	if len(vals) == 0 {
		return "", time.Time{}, nil
	}
	acquired := time.Time{}
	if ts, ok := vals["acquired"]; ok {
		acquired, _ = time.Parse(time.RFC3339, ts)
	}
	return vals["holder"], acquired, nil
}

var _ batch.Locker = (*Locker)(nil)
