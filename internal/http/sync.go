package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/flurbudurbur/nanosync/internal/domain"
	"github.com/flurbudurbur/nanosync/internal/syncqueue"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type syncService interface {
	Notify()
	Stats() syncqueue.Stats
}

type syncJobLister interface {
	List(ctx context.Context, limit uint64) ([]domain.SyncJob, error)
	Count(ctx context.Context) (int, error)
}

type outcomeHistory interface {
	Recent(limit int) []domain.SyncOutcomeEvent
}

type sweepScheduler interface {
	NextSweep() time.Time
}

type syncHandler struct {
	encoder   encoder
	service   syncService
	jobs      syncJobLister
	outcomes  outcomeHistory
	scheduler sweepScheduler
}

func newSyncHandler(encoder encoder, service syncService, jobs syncJobLister, outcomes outcomeHistory, scheduler sweepScheduler) *syncHandler {
	return &syncHandler{
		encoder:   encoder,
		service:   service,
		jobs:      jobs,
		outcomes:  outcomes,
		scheduler: scheduler,
	}
}

func (h syncHandler) Routes(r chi.Router) {
	r.Get("/jobs", h.listJobs)
	r.Post("/notify", h.notify)
	r.Get("/stats", h.stats)
	r.Get("/outcomes", h.listOutcomes)
}

type jobResponse struct {
	ID           int64     `json:"id"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	CreatedAt    time.Time `json:"created_at"`
	Age          string    `json:"age"`
	FailureCount int       `json:"failure_count"`
}

type statsResponse struct {
	syncqueue.Stats
	PendingJobs int        `json:"pending_jobs"`
	NextSweep   *time.Time `json:"next_sweep,omitempty"`
	NextSweepIn string     `json:"next_sweep_in,omitempty"`
}

type outcomeResponse struct {
	JobID        int64     `json:"job_id"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Outcome      string    `json:"outcome"`
	Action       string    `json:"action"`
	FailureCount int       `json:"failure_count"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.Errorf("invalid limit %q", raw)
	}

	if limit > maxListLimit {
		limit = maxListLimit
	}

	return limit, nil
}

func (h syncHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, err)
		return
	}

	jobs, err := h.jobs.List(r.Context(), uint64(limit))
	if err != nil {
		h.encoder.Error(w, err)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, jobResponse{
			ID:           job.ID,
			EntityType:   job.EntityType.String(),
			EntityID:     job.EntityID,
			CreatedAt:    job.CreatedAt,
			Age:          humanize.Time(job.CreatedAt),
			FailureCount: job.FailureCount,
		})
	}

	render.JSON(w, r, resp)
}

func (h syncHandler) notify(w http.ResponseWriter, r *http.Request) {
	h.service.Notify()

	h.encoder.StatusResponse(r.Context(), w, nil, http.StatusAccepted)
}

func (h syncHandler) stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.jobs.Count(r.Context())
	if err != nil {
		h.encoder.Error(w, err)
		return
	}

	resp := statsResponse{
		Stats:       h.service.Stats(),
		PendingJobs: count,
	}

	if h.scheduler != nil {
		if next := h.scheduler.NextSweep(); !next.IsZero() {
			resp.NextSweep = &next
			resp.NextSweepIn = humanize.Time(next)
		}
	}

	render.JSON(w, r, resp)
}

func (h syncHandler) listOutcomes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, err)
		return
	}

	events := h.outcomes.Recent(limit)

	resp := make([]outcomeResponse, 0, len(events))
	for _, e := range events {
		o := outcomeResponse{
			JobID:        e.JobID,
			EntityType:   e.EntityType.String(),
			EntityID:     e.EntityID,
			Outcome:      e.Outcome.String(),
			Action:       e.Action,
			FailureCount: e.FailureCount,
			Timestamp:    e.Timestamp,
		}
		if e.Err != nil {
			o.Error = e.Err.Error()
		}
		resp = append(resp, o)
	}

	render.JSON(w, r, resp)
}
