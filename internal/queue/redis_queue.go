package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DelayedQueue coordinates the ready, in-flight, and scheduled job sets in
// Redis. Scheduled jobs live in a ZSET scored by due-time millis; due jobs
// are promoted into a single ready list and handed to workers under an
// in-flight lease with a visibility timeout. Entries are job ids only; the
// payload stays in Postgres, which remains the source of truth.
type DelayedQueue struct {
	client        *redis.Client
	readyKey      string
	scheduledKey  string
	inflightKey   string
	visibilityTTL time.Duration
}

// NewDelayedQueue builds a queue client on an existing Redis connection.
func NewDelayedQueue(client *redis.Client, visibility time.Duration) *DelayedQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &DelayedQueue{
		client:        client,
		readyKey:      "emailq:ready",
		scheduledKey:  "emailq:scheduled",
		inflightKey:   "emailq:inflight",
		visibilityTTL: visibility,
	}
}

// Enqueue admits a job for dispatch no earlier than dueTime. A due time at or
// before now makes the job immediately ready.
func (q *DelayedQueue) Enqueue(ctx context.Context, jobID string, dueTime, now time.Time) error {
	if dueTime.After(now) {
		err := q.client.ZAdd(ctx, q.scheduledKey, redis.Z{
			Score:  float64(dueTime.UnixMilli()),
			Member: jobID,
		}).Err()
		if err != nil {
			return fmt.Errorf("enqueue scheduled: %w", err)
		}
		return nil
	}
	if err := q.client.RPush(ctx, q.readyKey, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue ready: %w", err)
	}
	return nil
}

// Requeue moves a job to a new due time, removing any pending or in-flight
// entry it may still hold. Used for rate-limit reschedules and retry backoff.
func (q *DelayedQueue) Requeue(ctx context.Context, jobID string, dueTime time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.readyKey, 0, jobID)
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{
		Score:  float64(dueTime.UnixMilli()),
		Member: jobID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// PromoteScheduled moves due scheduled jobs into the ready list. It returns
// how many were promoted.
func (q *DelayedQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("range scheduled: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("promote scheduled: %w", err)
	}
	return len(ids), nil
}

// DequeueWithLease pops one ready job and places it in-flight with a
// visibility deadline. An empty string means no job was ready. A popped job
// is never handed out again unless its lease expires.
func (q *DelayedQueue) DequeueWithLease(ctx context.Context, now time.Time) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		now.Add(q.visibilityTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *DelayedQueue) ExtendLease(ctx context.Context, jobID string, deadline time.Time) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking once its outcome is recorded.
func (q *DelayedQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// RequeueExpired reclaims in-flight leases that timed out, pushing the jobs
// back onto the ready list.
func (q *DelayedQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range inflight: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired: %w", err)
	}
	return ids, nil
}

// Reset drops all queue state. Startup recovery calls this before rebuilding
// the queue from the job store, so stale ready or in-flight entries from a
// previous process cannot produce duplicate dispatches.
func (q *DelayedQueue) Reset(ctx context.Context) error {
	if err := q.client.Del(ctx, q.readyKey, q.scheduledKey, q.inflightKey).Err(); err != nil {
		return fmt.Errorf("reset queue: %w", err)
	}
	return nil
}

// ReadyDepth returns the length of the ready list.
func (q *DelayedQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// ScheduledDepth returns the number of jobs waiting on a future due time.
func (q *DelayedQueue) ScheduledDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.scheduledKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
