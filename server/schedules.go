package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/pulse/posting"
	"github.com/teranos/repost/pulse/schedule"
	"github.com/teranos/repost/version"
)

// ScheduleService is the scheduler surface the API drives
type ScheduleService interface {
	Install(ctx context.Context, id string, interval time.Duration, cred posting.Credential, listing posting.Listing, active bool) error
	Update(ctx context.Context, id string, ch schedule.Changes) error
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*schedule.Job, error)
	List(ctx context.Context) ([]*schedule.Job, error)
	ListExecutions(ctx context.Context, id string, limit int) ([]*schedule.Execution, error)
	InFlight(id string) bool
	Stats() schedule.Stats
}

const maxExecutionsLimit = 500

// handleListSchedules handles GET /api/schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	logger.AddPulseSymbol(s.logger).Debugw("Pulse list schedules")

	jobs, err := s.schedules.List(r.Context())
	if err != nil {
		writeWrappedError(w, s.logger, err, "Failed to list schedules", http.StatusInternalServerError)
		return
	}

	resp := ListSchedulesResponse{Schedules: make([]ScheduleResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Schedules = append(resp.Schedules, toScheduleResponse(job, s.schedules.InFlight(job.ID)))
	}
	resp.Count = len(resp.Schedules)
	writeJSON(w, http.StatusOK, resp)
}

// handleGetSchedule handles GET /api/schedules/{id}
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "Failed to get schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(job, s.schedules.InFlight(id)))
}

// handleUpsertSchedule handles PUT /api/schedules/{id}.
// Installing a schedule that already exists replaces it and re-anchors it at now.
func (s *Server) handleUpsertSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pulseLog := logger.AddPulseSymbol(s.logger)

	var req UpsertScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	interval, ok, err := parseInterval(req.Interval, req.IntervalHours)
	if err == nil && !ok {
		err = errors.Wrap(schedule.ErrInvalidInterval, "interval is required")
	}
	if err != nil {
		writeWrappedError(w, s.logger, err, "Invalid interval", http.StatusBadRequest)
		return
	}
	if err := req.Credential.Normalize(); err != nil {
		writeWrappedError(w, s.logger, err, "Invalid credential", http.StatusBadRequest)
		return
	}
	if err := req.Listing.Validate(); err != nil {
		writeWrappedError(w, s.logger, err, "Invalid listing", http.StatusBadRequest)
		return
	}

	pulseLog.Infow("Pulse upsert schedule",
		logger.FieldScheduleID, id,
		logger.FieldInterval, interval,
		logger.FieldAccount, req.Credential.Identifier,
		logger.FieldStrategy, req.Credential.Strategy,
		logger.FieldTitle, req.Listing.Title)

	active := req.Active == nil || *req.Active
	if err := s.schedules.Install(r.Context(), id, interval, req.Credential, req.Listing, active); err != nil {
		writeWrappedError(w, s.logger, err, "Failed to install schedule", http.StatusInternalServerError)
		return
	}

	job, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "Failed to reload schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(job, s.schedules.InFlight(id)))
}

// parseInterval resolves the two accepted spellings of the republish
// interval. ok is false when neither is set.
func parseInterval(interval string, hours int) (time.Duration, bool, error) {
	var (
		d   time.Duration
		err error
	)
	switch {
	case interval != "" && hours != 0:
		return 0, false, errors.NewInvalidRequestError("set either interval or interval_hours, not both")
	case interval != "":
		d, err = schedule.ParseInterval(interval)
	case hours != 0:
		d, err = schedule.ParseInterval(strconv.Itoa(hours))
	default:
		return 0, false, nil
	}
	return d, true, err
}

// handleUpdateSchedule handles PATCH /api/schedules/{id}
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	ch := schedule.Changes{Active: req.Active}
	interval, ok, err := parseInterval(req.Interval, req.IntervalHours)
	if err != nil {
		writeWrappedError(w, s.logger, err, "Invalid interval", http.StatusBadRequest)
		return
	}
	if ok {
		ch.Interval = &interval
	}
	if ch.Active == nil && ch.Interval == nil {
		writeError(w, http.StatusBadRequest, "No update fields provided")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Pulse update schedule",
		logger.FieldScheduleID, id,
		"active", req.Active,
		logger.FieldInterval, ch.Interval)

	if err := s.schedules.Update(r.Context(), id, ch); err != nil {
		writeWrappedError(w, s.logger, err, "Failed to update schedule", http.StatusInternalServerError)
		return
	}

	job, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "Failed to reload schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(job, s.schedules.InFlight(id)))
}

// handleDeleteSchedule handles DELETE /api/schedules/{id}.
// Deleting an unknown schedule succeeds.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger.AddPulseSymbol(s.logger).Infow("Pulse delete schedule", logger.FieldScheduleID, id)

	if err := s.schedules.Remove(r.Context(), id); err != nil {
		writeWrappedError(w, s.logger, err, "Failed to remove schedule", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListExecutions handles GET /api/schedules/{id}/executions?limit=N
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxExecutionsLimit)
	}

	execs, err := s.schedules.ListExecutions(r.Context(), id, limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "Failed to list executions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ListExecutionsResponse{
		ScheduleID: id,
		Executions: execs,
		Count:      len(execs),
	})
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.schedules.Stats()
	status := "ok"
	if !stats.Running {
		status = "degraded"
	}
	resp := HealthResponse{
		Status:    status,
		Version:   version.Get().Short(),
		Scheduler: stats,
	}
	if s.budget != nil {
		spend, err := s.budget.Status(r.Context())
		if err != nil {
			s.logger.Warnw("Failed to read captcha budget", logger.FieldError, err)
			resp.Status = "degraded"
		} else {
			resp.CaptchaBudget = spend
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
