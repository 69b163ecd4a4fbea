package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/models"
)

// HourlyWindow enforces a per-sender hourly send quota in Redis. Each
// (sender, calendar hour) pair gets its own counter key; admission and
// increment happen as a single Lua script so concurrent callers can never
// push a window past its cap. Counter keys expire after ttl, which bounds
// the historical window data Redis retains.
type HourlyWindow struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

// NewHourlyWindow constructs a limiter with the process-wide default cap.
func NewHourlyWindow(client *redis.Client, limit int, ttl time.Duration) *HourlyWindow {
	return &HourlyWindow{
		client: client,
		limit:  limit,
		ttl:    ttl,
	}
}

func (w *HourlyWindow) key(sender string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s", sender, models.HourWindow(now))
}

// TryAdmit consumes one admission slot for sender in the hour bucket of now.
// A positive limitOverride replaces the default cap for this call (the
// campaign-level hourly_limit). Returns whether the send was admitted and the
// window's count after the call; a rejection leaves the count untouched.
func (w *HourlyWindow) TryAdmit(ctx context.Context, sender string, limitOverride int, now time.Time) (bool, int64, error) {
	limit := w.limit
	if limitOverride > 0 {
		limit = limitOverride
	}
	res, err := admitScript.Run(ctx, w.client, []string{w.key(sender, now)}, limit, w.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit admit: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected reply from admit script: %T", res)
	}
	verdict, ok := arr[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected reply from admit script: %T", arr[0])
	}
	count, _ := arr[1].(int64)
	return verdict == 1, count, nil
}

// Count reports the current counter for sender's hour bucket without
// consuming a slot. Zero means no sends this hour yet.
func (w *HourlyWindow) Count(ctx context.Context, sender string, now time.Time) (int64, error) {
	n, err := w.client.Get(ctx, w.key(sender, now)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit count: %w", err)
	}
	return n, nil
}

var admitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = tonumber(redis.call('GET', key) or '0')
if count >= limit then
  return {0, count}
end

count = redis.call('INCR', key)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {1, count}
`)
