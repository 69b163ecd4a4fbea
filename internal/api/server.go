package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/config"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/recipients"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/schedule"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/store"
	"github.com/Kneha256/AI-Powered-Email-Scheduler-Dashboard-ReachInbox/internal/telemetry"
)

// Server wires HTTP handlers for the submission and query boundaries.
// Authentication is an external collaborator; the caller's identity arrives
// in the X-User-ID header.
type Server struct {
	cfg       config.Config
	scheduler *schedule.Service
	log       *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, scheduler *schedule.Service, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		scheduler: scheduler,
		log:       log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/emails", func(r chi.Router) {
		r.Post("/schedule", s.handleSchedule)
		r.Get("/scheduled", s.handleScheduled)
		r.Get("/sent", s.handleSent)
		r.Post("/parse-csv", s.handleParseCSV)
	})

	return r
}

type scheduleRequest struct {
	Sender      string   `json:"sender_email"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Recipients  []string `json:"recipients"`
	StartTime   string   `json:"start_time"`
	DelayMs     int64    `json:"delay_between_emails"`
	HourlyLimit int      `json:"hourly_limit"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeScheduleRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	startTime := time.Now()
	if req.StartTime != "" {
		startTime, err = time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			http.Error(w, "start_time must be RFC3339", http.StatusBadRequest)
			return
		}
	}

	jobs, err := s.scheduler.Submit(r.Context(), schedule.SubmitParams{
		UserID:      userFromRequest(r),
		Sender:      req.Sender,
		Subject:     req.Subject,
		Body:        req.Body,
		Recipients:  req.Recipients,
		StartTime:   startTime,
		Delay:       time.Duration(req.DelayMs) * time.Millisecond,
		HourlyLimit: req.HourlyLimit,
	})
	if err != nil {
		if errors.Is(err, schedule.ErrNoRecipients) || errors.Is(err, schedule.ErrMissingFields) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, store.ErrDuplicateJobID) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.log.Error("schedule failed", zap.Error(err))
		http.Error(w, "failed to schedule emails", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "emails scheduled",
		"count":   len(jobs),
		"jobs":    jobs,
	})
}

// decodeScheduleRequest accepts either a JSON body or a multipart form whose
// "file" part is a recipient CSV.
func (s *Server) decodeScheduleRequest(r *http.Request) (scheduleRequest, error) {
	var req scheduleRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			return req, errors.New("invalid multipart form")
		}
		req.Sender = r.FormValue("sender_email")
		req.Subject = r.FormValue("subject")
		req.Body = r.FormValue("body")
		req.StartTime = r.FormValue("start_time")
		req.DelayMs, _ = strconv.ParseInt(r.FormValue("delay_between_emails"), 10, 64)
		req.HourlyLimit, _ = strconv.Atoi(r.FormValue("hourly_limit"))

		file, _, err := r.FormFile("file")
		if err != nil {
			return req, errors.New("recipient file is required")
		}
		defer file.Close()
		emails, err := recipients.Parse(file, s.cfg.MaxCSVRecipients)
		if err != nil {
			return req, errors.New("could not parse recipient file")
		}
		req.Recipients = emails
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("invalid json")
	}
	return req, nil
}

func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.scheduler.ListScheduled(r.Context(), userFromRequest(r))
	if err != nil {
		s.log.Error("list scheduled failed", zap.Error(err))
		http.Error(w, "failed to list scheduled emails", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": jobs})
}

func (s *Server) handleSent(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.scheduler.ListSentOrFailed(r.Context(), userFromRequest(r))
	if err != nil {
		s.log.Error("list sent failed", zap.Error(err))
		http.Error(w, "failed to list sent emails", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": jobs})
}

func (s *Server) handleParseCSV(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file uploaded", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
	}

	emails, err := recipients.Parse(body, s.cfg.MaxCSVRecipients)
	if err != nil {
		http.Error(w, "could not parse file", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(emails),
		"emails": emails,
	})
}

func userFromRequest(r *http.Request) int64 {
	if v := r.Header.Get("X-User-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return id
		}
	}
	return 1
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
