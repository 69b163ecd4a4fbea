package models

import (
	"time"
)

// Job status values persisted in Postgres. A job moves from scheduled to
// exactly one of the terminal states and never leaves it.
const (
	StatusScheduled = "scheduled"
	StatusSent      = "sent"
	StatusFailed    = "failed"
)

// Job is one scheduled email-send task persisted in Postgres. The row is the
// source of truth for the job's lifecycle and is never deleted (audit trail).
type Job struct {
	ID          string     `json:"job_id"`
	UserID      int64      `json:"user_id"`
	Recipient   string     `json:"recipient_email"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	Sender      string     `json:"sender_email"`
	DueTime     time.Time  `json:"scheduled_time"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	HourlyLimit int        `json:"hourly_limit,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ErrorMsg    *string    `json:"error_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ScheduledJob is the submission boundary's receipt for one recipient.
type ScheduledJob struct {
	JobID     string    `json:"jobId"`
	Recipient string    `json:"recipient"`
	DueTime   time.Time `json:"scheduledTime"`
}

// HourWindow formats t as a rate-limit hour bucket identifier, e.g.
// "2026-08-28-13". Buckets are calendar hours in t's location.
func HourWindow(t time.Time) string {
	return t.Format("2006-01-02-15")
}

// NextHourBoundary returns the start of the calendar hour following t, in
// t's location. Rate-limited jobs are requeued to this instant, so it must
// always land in the hour bucket after HourWindow(t) even in zones whose UTC
// offset is not a whole number of hours.
func NextHourBoundary(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, t.Hour()+1, 0, 0, 0, t.Location())
}
