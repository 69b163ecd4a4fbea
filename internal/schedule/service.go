package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/models"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/telemetry"
)

// Validation errors returned synchronously to the submission caller.
var (
	ErrNoRecipients  = errors.New("no valid recipients")
	ErrMissingFields = errors.New("sender, subject and body are required")
)

// JobStore is the persistence surface the submission boundary needs.
type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) error
	ListScheduled(ctx context.Context, userID int64) ([]models.Job, error)
	ListSentOrFailed(ctx context.Context, userID int64) ([]models.Job, error)
}

// Enqueuer admits persisted jobs into the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, dueTime, now time.Time) error
}

// Service implements the submission and query boundaries: it computes one due
// time per recipient, persists each job, then enqueues it.
type Service struct {
	store JobStore
	queue Enqueuer
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store JobStore, queue Enqueuer, log *zap.Logger) *Service {
	return &Service{
		store: store,
		queue: queue,
		log:   log,
		now:   time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SubmitParams is one bulk-send request: a single message fanned out to an
// ordered recipient list, spaced Delay apart starting at StartTime.
type SubmitParams struct {
	UserID      int64
	Sender      string
	Subject     string
	Body        string
	Recipients  []string
	StartTime   time.Time
	Delay       time.Duration
	HourlyLimit int
}

// Submit schedules one job per recipient with dueTime[i] = StartTime + i*Delay
// and returns a receipt per job in recipient order.
func (s *Service) Submit(ctx context.Context, p SubmitParams) ([]models.ScheduledJob, error) {
	if p.Sender == "" || p.Subject == "" || p.Body == "" {
		return nil, ErrMissingFields
	}
	if len(p.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	now := s.now()
	scheduled := make([]models.ScheduledJob, 0, len(p.Recipients))
	for i, recipient := range p.Recipients {
		job := models.Job{
			ID:          fmt.Sprintf("email-%s", uuid.NewString()),
			UserID:      p.UserID,
			Recipient:   recipient,
			Subject:     p.Subject,
			Body:        p.Body,
			Sender:      p.Sender,
			DueTime:     p.StartTime.Add(time.Duration(i) * p.Delay),
			Status:      models.StatusScheduled,
			HourlyLimit: p.HourlyLimit,
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("persist job for %s: %w", recipient, err)
		}
		if err := s.queue.Enqueue(ctx, job.ID, job.DueTime, now); err != nil {
			// The row is durable; startup recovery rebuilds the queue from the
			// store, so a missed enqueue delays the job instead of losing it.
			s.log.Warn("enqueue failed, job will be restored by recovery",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
		telemetry.EmailsScheduled.Inc()
		scheduled = append(scheduled, models.ScheduledJob{
			JobID:     job.ID,
			Recipient: recipient,
			DueTime:   job.DueTime,
		})
	}

	s.log.Info("bulk send scheduled",
		zap.Int64("user_id", p.UserID),
		zap.String("sender", p.Sender),
		zap.Int("count", len(scheduled)),
		zap.Time("start", p.StartTime),
		zap.Duration("delay", p.Delay),
	)
	return scheduled, nil
}

// ListScheduled returns the user's pending jobs ordered by due time ascending.
func (s *Service) ListScheduled(ctx context.Context, userID int64) ([]models.Job, error) {
	return s.store.ListScheduled(ctx, userID)
}

// ListSentOrFailed returns the user's completed jobs, most recent first.
func (s *Service) ListSentOrFailed(ctx context.Context, userID int64) ([]models.Job, error) {
	return s.store.ListSentOrFailed(ctx, userID)
}
