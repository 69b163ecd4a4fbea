package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/config"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/models"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/schedule"
)

type memStore struct {
	jobs []models.Job
}

func (m *memStore) CreateJob(_ context.Context, job models.Job) error {
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memStore) ListScheduled(_ context.Context, userID int64) ([]models.Job, error) {
	var out []models.Job
	for _, j := range m.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) ListSentOrFailed(_ context.Context, _ int64) ([]models.Job, error) {
	return nil, nil
}

type memQueue struct{}

func (memQueue) Enqueue(_ context.Context, _ string, _, _ time.Time) error { return nil }

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	st := &memStore{}
	svc := schedule.NewService(st, memQueue{}, zap.NewNop())
	return New(config.Config{MaxCSVRecipients: 1000}, svc, zap.NewNop()), st
}

func TestScheduleEndpoint(t *testing.T) {
	srv, st := newTestServer(t)

	body := `{
		"sender_email": "campaigns@example.com",
		"subject": "hello",
		"body": "world",
		"recipients": ["a@example.com", "b@example.com"],
		"start_time": "2026-08-28T12:00:00Z",
		"delay_between_emails": 2000
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/emails/schedule", strings.NewReader(body))
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Count int                   `json:"count"`
		Jobs  []models.ScheduledJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	require.Equal(t, "a@example.com", resp.Jobs[0].Recipient)

	start := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	require.Equal(t, start, resp.Jobs[0].DueTime)
	require.Equal(t, start.Add(2*time.Second), resp.Jobs[1].DueTime)

	require.Len(t, st.jobs, 2)
	require.Equal(t, int64(42), st.jobs[0].UserID)
}

func TestScheduleRejectsEmptyRecipients(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"sender_email": "s@example.com", "subject": "x", "body": "y", "recipients": []}`
	req := httptest.NewRequest(http.MethodPost, "/api/emails/schedule", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseCSVEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/emails/parse-csv",
		strings.NewReader("name,email\nAlice,alice@example.com\nBob,bob@example.com\n"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count  int      `json:"count"`
		Emails []string `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, resp.Emails)
}

func TestListScheduledEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	st.jobs = append(st.jobs, models.Job{
		ID: "email-1", UserID: 42, Recipient: "a@example.com",
		Status: models.StatusScheduled, DueTime: time.Now().Add(time.Hour),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/emails/scheduled", nil)
	req.Header.Set("X-User-ID", "42")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Emails []models.Job `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Emails, 1)
	require.Equal(t, "email-1", resp.Emails[0].ID)
}
