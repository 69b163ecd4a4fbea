package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/mailer"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/models"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/store"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/telemetry"
)

// JobStore is the persistence surface the dispatcher needs. Writes go through
// here only; the job row stays the source of truth across restarts.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, errorMsg string) error
	UpdateAttempts(ctx context.Context, id string, attempts int, nextDue time.Time, lastErr string) error
	UpdateDueTime(ctx context.Context, id string, dueTime time.Time) error
	ListPending(ctx context.Context) ([]models.Job, error)
}

// Queue is the delayed work queue shared by the promoter and the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, dueTime, now time.Time) error
	Requeue(ctx context.Context, jobID string, dueTime time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	DequeueWithLease(ctx context.Context, now time.Time) (string, error)
	ExtendLease(ctx context.Context, jobID string, deadline time.Time) error
	Ack(ctx context.Context, jobID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Reset(ctx context.Context) error
	ReadyDepth(ctx context.Context) (int64, error)
}

// Admission gates send attempts against the per-sender hourly quota.
type Admission interface {
	TryAdmit(ctx context.Context, sender string, limitOverride int, now time.Time) (bool, int64, error)
}

// Options tune the dispatcher. Zero values fall back to the defaults below.
type Options struct {
	Concurrency        int
	PollInterval       time.Duration
	MaxAttempts        int
	BackoffBase        time.Duration
	MinSendInterval    time.Duration
	ScheduledBatchSize int
	VisibilityTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5 * time.Second
	}
	if o.ScheduledBatchSize <= 0 {
		o.ScheduledBatchSize = 100
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 60 * time.Second
	}
	return o
}

// Dispatcher owns the worker pool: it promotes due jobs, enforces the hourly
// quota and the minimum inter-send spacing, invokes the mail transport, and
// writes every outcome back to the job store.
type Dispatcher struct {
	opts    Options
	store   JobStore
	queue   Queue
	limiter Admission
	sender  mailer.Sender
	pacer   *rate.Limiter
	log     *zap.Logger
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options, st JobStore, q Queue, limiter Admission, sender mailer.Sender, log *zap.Logger) *Dispatcher {
	opts = opts.withDefaults()
	// The pacer spaces sends globally across the pool; quota admission is a
	// separate, stricter gate.
	pacer := rate.NewLimiter(rate.Inf, 1)
	if opts.MinSendInterval > 0 {
		pacer = rate.NewLimiter(rate.Every(opts.MinSendInterval), 1)
	}
	return &Dispatcher{
		opts:    opts,
		store:   st,
		queue:   q,
		limiter: limiter,
		sender:  sender,
		pacer:   pacer,
		log:     log,
		now:     time.Now,
	}
}

// WithClock overrides the dispatcher clock. Tests only.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Start launches the promoter loop and the worker pool. It returns
// immediately; call Stop to drain.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.promoteLoop(ctx)

	for i := 0; i < d.opts.Concurrency; i++ {
		d.wg.Add(1)
		go d.workerLoop(ctx, i)
	}

	d.log.Info("dispatcher started",
		zap.Int("concurrency", d.opts.Concurrency),
		zap.Duration("min_send_interval", d.opts.MinSendInterval),
		zap.Int("max_attempts", d.opts.MaxAttempts),
	)
}

// Stop cancels the loops and waits for in-flight work to settle. Jobs that
// were dequeued but not finished keep status=scheduled and are restored by
// recovery on the next start.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.log.Info("dispatcher stopped")
}

// promoteLoop ticks the scheduled set: due jobs move to the ready list,
// expired leases are reclaimed, and the queue depth gauge is refreshed.
func (d *Dispatcher) promoteLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := d.now()
		if _, err := d.queue.PromoteScheduled(ctx, now, int64(d.opts.ScheduledBatchSize)); err != nil {
			d.log.Warn("promote scheduled failed", zap.Error(err))
		}
		if reclaimed, err := d.queue.RequeueExpired(ctx, now, 100); err != nil {
			d.log.Warn("requeue expired failed", zap.Error(err))
		} else if len(reclaimed) > 0 {
			d.log.Warn("reclaimed expired leases", zap.Strings("job_ids", reclaimed))
		}
		if depth, err := d.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, id int) {
	defer d.wg.Done()

	log := d.log.With(zap.Int("worker_id", id))
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		default:
		}

		jobID, err := d.queue.DequeueWithLease(ctx, d.now())
		if err != nil || jobID == "" {
			if err != nil {
				log.Warn("dequeue failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
			case <-time.After(d.opts.PollInterval):
			}
			continue
		}

		d.process(ctx, log, jobID)
	}
}

// process drives one dequeued job to an outcome: skip, requeue, sent, retry,
// or failed. The queue lease is held throughout; it is acked only once the
// outcome is recorded, so a crash mid-send leaves the job recoverable.
func (d *Dispatcher) process(ctx context.Context, log *zap.Logger, jobID string) {
	now := d.now()

	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Queue entry with no backing row; drop it.
			_ = d.queue.Ack(ctx, jobID)
			return
		}
		// Store unavailable: leave the lease to expire and be retried.
		log.Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	// Terminal rows are never attempted again. This also doubles as the
	// cancellation seam: flipping a row out of scheduled prevents dispatch.
	if job.Status != models.StatusScheduled {
		_ = d.queue.Ack(ctx, jobID)
		return
	}

	admitted, count, err := d.limiter.TryAdmit(ctx, job.Sender, job.HourlyLimit, now)
	if err != nil {
		log.Error("rate limit check failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if !admitted {
		// Administrative reschedule to the next hour boundary; no attempt is
		// consumed.
		nextHour := models.NextHourBoundary(now)
		d.persist(ctx, log, jobID, "defer due time", func() error {
			return d.store.UpdateDueTime(ctx, jobID, nextHour)
		})
		if err := d.queue.Requeue(ctx, jobID, nextHour); err != nil {
			log.Error("requeue after rate limit failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		telemetry.RateLimitDefers.Inc()
		log.Info("rate limit reached, deferred to next hour",
			zap.String("job_id", jobID),
			zap.String("sender", job.Sender),
			zap.Int64("window_count", count),
			zap.Time("next_due", nextHour),
		)
		return
	}

	// Admission through delivery can outlast the dequeue lease when the pacer
	// backs up or the SMTP exchange is slow; push the deadline out before each
	// slow stage so the promoter does not reclaim a job still being worked.
	d.extendLease(ctx, log, jobID)

	// Minimum inter-send spacing, applied after admission so a deferred job
	// does not burn pacer slots.
	if err := d.pacer.Wait(ctx); err != nil {
		// Shutting down; the lease expires and the job is reclaimed or
		// recovered on next start.
		return
	}
	d.extendLease(ctx, log, jobID)

	telemetry.InFlightGauge.Inc()
	sendErr := d.sender.Send(ctx, job.Sender, job.Recipient, job.Subject, job.Body)
	telemetry.InFlightGauge.Dec()

	if sendErr == nil {
		d.persist(ctx, log, jobID, "mark sent", func() error {
			return d.store.MarkSent(ctx, jobID, d.now())
		})
		_ = d.queue.Ack(ctx, jobID)
		telemetry.EmailsSent.Inc()
		log.Info("email sent",
			zap.String("job_id", jobID),
			zap.String("recipient", job.Recipient),
		)
		return
	}

	attempts := job.Attempts + 1
	if attempts >= d.opts.MaxAttempts {
		d.persist(ctx, log, jobID, "mark failed", func() error {
			return d.store.MarkFailed(ctx, jobID, sendErr.Error())
		})
		_ = d.queue.Ack(ctx, jobID)
		telemetry.EmailsFailed.Inc()
		log.Error("job failed permanently",
			zap.String("job_id", jobID),
			zap.String("recipient", job.Recipient),
			zap.Int("attempts", attempts),
			zap.Error(sendErr),
		)
		return
	}

	nextDue := d.now().Add(retryBackoff(d.opts.BackoffBase, attempts))
	d.persist(ctx, log, jobID, "record attempt", func() error {
		return d.store.UpdateAttempts(ctx, jobID, attempts, nextDue, sendErr.Error())
	})
	if err := d.queue.Requeue(ctx, jobID, nextDue); err != nil {
		log.Error("requeue for retry failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	telemetry.EmailsRetried.Inc()
	log.Warn("send failed, retry scheduled",
		zap.String("job_id", jobID),
		zap.String("recipient", job.Recipient),
		zap.Int("attempts", attempts),
		zap.Time("next_due", nextDue),
		zap.Error(sendErr),
	)
}

func (d *Dispatcher) extendLease(ctx context.Context, log *zap.Logger, jobID string) {
	deadline := d.now().Add(d.opts.VisibilityTimeout)
	if err := d.queue.ExtendLease(ctx, jobID, deadline); err != nil {
		log.Warn("extend lease failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// persist retries a status write with exponential backoff. Losing an outcome
// is worse than delaying it; a write that still fails is logged and the lease
// mechanism gets another chance later.
func (d *Dispatcher) persist(ctx context.Context, log *zap.Logger, jobID, op string, fn func() error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(fn, backoff.WithContext(b, ctx)); err != nil {
		log.Error("status update dropped",
			zap.String("job_id", jobID),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

// retryBackoff returns the deterministic delay before attempt n+1:
// base, 2*base, 4*base, ...
func retryBackoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return base << (attempts - 1)
}
