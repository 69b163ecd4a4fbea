package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*DelayedQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewDelayedQueue(client, time.Minute), mr
}

func TestEnqueueDueGoesStraightToReady(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	if err := q.Enqueue(ctx, "job-1", now.Add(-time.Second), now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobID, err := q.DequeueWithLease(ctx, now)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("expected job-1, got %q", jobID)
	}

	// At-most-once hand-off: a leased job is not handed out again.
	jobID, err = q.DequeueWithLease(ctx, now)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if jobID != "" {
		t.Fatalf("expected empty dequeue, got %q", jobID)
	}
}

func TestFutureJobWaitsForPromotion(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	due := now.Add(30 * time.Second)

	if err := q.Enqueue(ctx, "job-1", due, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if n, _ := q.PromoteScheduled(ctx, now, 100); n != 0 {
		t.Fatalf("job promoted before its due time")
	}
	if jobID, _ := q.DequeueWithLease(ctx, now); jobID != "" {
		t.Fatalf("job dispatched before its due time")
	}

	n, err := q.PromoteScheduled(ctx, due, 100)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 promotion, got %d", n)
	}
	if jobID, _ := q.DequeueWithLease(ctx, due); jobID != "job-1" {
		t.Fatalf("expected job-1 after promotion, got %q", jobID)
	}
}

func TestRequeueReplacesPendingEntry(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	if err := q.Enqueue(ctx, "job-1", now, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	jobID, _ := q.DequeueWithLease(ctx, now)
	if jobID != "job-1" {
		t.Fatalf("expected job-1, got %q", jobID)
	}

	// Rate-limit style requeue: the in-flight entry is replaced by a single
	// scheduled entry at the new due time.
	newDue := now.Add(time.Hour)
	if err := q.Requeue(ctx, "job-1", newDue); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	if jobID, _ := q.DequeueWithLease(ctx, now); jobID != "" {
		t.Fatalf("requeued job still dispatchable: %q", jobID)
	}
	if n, _ := q.PromoteScheduled(ctx, now.Add(30*time.Minute), 100); n != 0 {
		t.Fatalf("requeued job promoted before its new due time")
	}
	if n, _ := q.PromoteScheduled(ctx, newDue, 100); n != 1 {
		t.Fatalf("expected requeued job promoted at its new due time")
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	if err := q.Enqueue(ctx, "job-1", now, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID, _ := q.DequeueWithLease(ctx, now); jobID != "job-1" {
		t.Fatalf("expected job-1")
	}

	reclaimed, err := q.RequeueExpired(ctx, now.Add(2*time.Minute), 100)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != "job-1" {
		t.Fatalf("expected job-1 reclaimed, got %v", reclaimed)
	}
	if jobID, _ := q.DequeueWithLease(ctx, now); jobID != "job-1" {
		t.Fatalf("reclaimed job not dispatchable again")
	}
}

func TestExtendLeaseDefersReclaim(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	if err := q.Enqueue(ctx, "job-1", now, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID, _ := q.DequeueWithLease(ctx, now); jobID != "job-1" {
		t.Fatalf("expected job-1")
	}

	// Original lease expires at now+1m; the extension moves it to now+5m.
	if err := q.ExtendLease(ctx, "job-1", now.Add(5*time.Minute)); err != nil {
		t.Fatalf("extend lease: %v", err)
	}

	if reclaimed, _ := q.RequeueExpired(ctx, now.Add(2*time.Minute), 100); len(reclaimed) != 0 {
		t.Fatalf("extended lease reclaimed early: %v", reclaimed)
	}
	reclaimed, err := q.RequeueExpired(ctx, now.Add(6*time.Minute), 100)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != "job-1" {
		t.Fatalf("expected job-1 reclaimed after extended deadline, got %v", reclaimed)
	}
}

func TestAckRemovesLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	if err := q.Enqueue(ctx, "job-1", now, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID, _ := q.DequeueWithLease(ctx, now); jobID != "job-1" {
		t.Fatalf("expected job-1")
	}
	if err := q.Ack(ctx, "job-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if reclaimed, _ := q.RequeueExpired(ctx, now.Add(time.Hour), 100); len(reclaimed) != 0 {
		t.Fatalf("acked job reclaimed: %v", reclaimed)
	}
}

func TestResetDropsAllState(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	_ = q.Enqueue(ctx, "ready-job", now, now)
	_ = q.Enqueue(ctx, "future-job", now.Add(time.Hour), now)

	if err := q.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if depth, _ := q.ReadyDepth(ctx); depth != 0 {
		t.Fatalf("ready depth after reset: %d", depth)
	}
	if depth, _ := q.ScheduledDepth(ctx); depth != 0 {
		t.Fatalf("scheduled depth after reset: %d", depth)
	}
}
