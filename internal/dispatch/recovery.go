package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/telemetry"
)

// Recover rebuilds the work queue from the job store. It must run before
// Start so in-flight and future jobs from a previous process are not lost.
//
// The queue is dropped and re-materialized from every status=scheduled row:
// rows with a future due time go back to the scheduled set, rows whose due
// time passed during downtime become immediately ready. Terminal rows are
// filtered out by the store query, which makes re-running this idempotent.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	if err := d.queue.Reset(ctx); err != nil {
		return 0, fmt.Errorf("reset queue: %w", err)
	}

	jobs, err := d.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}

	now := d.now()
	restored := 0
	for _, job := range jobs {
		if err := d.queue.Enqueue(ctx, job.ID, job.DueTime, now); err != nil {
			return restored, fmt.Errorf("restore job %s: %w", job.ID, err)
		}
		restored++
		telemetry.JobsRecovered.Inc()
	}

	d.log.Info("recovery complete", zap.Int("restored", restored))
	return restored, nil
}
