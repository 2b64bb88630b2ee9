package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/stoney2759/autotube/internal/scheduler"
	"github.com/stoney2759/autotube/internal/types"
)

// TriggerRequest represents the request body for POST /runs.
type TriggerRequest struct {
	Theme string `json:"theme,omitempty"`
}

// TriggerResponse represents the response for POST /runs.
type TriggerResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// QuotaResponse represents the response for GET /quota.
type QuotaResponse struct {
	Day       string `json:"day"`
	Used      int    `json:"used"`
	MaxPerDay int    `json:"max_per_day"`
	Remaining int    `json:"remaining"`
}

// SchedulerStatusResponse represents the response for GET /scheduler.
type SchedulerStatusResponse struct {
	Paused bool `json:"paused"`
}

// handleTriggerRun starts a run immediately. Manual triggers bypass the
// interval clause but never the daily cap.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	// The run outlives this request; detach it from the request's
	// cancellation so returning the 202 does not kill it.
	runID, err := s.sched.TriggerRun(context.WithoutCancel(r.Context()), types.Theme(req.Theme))
	if err != nil {
		s.errorResponse(w, denyStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, TriggerResponse{
		RunID:  runID.String(),
		Status: "started",
	})
}

// handleListRuns returns the latest snapshot of recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	recs, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to read ledger: "+err.Error())
		return
	}
	if recs == nil {
		recs = []types.RunRecord{}
	}
	s.jsonResponse(w, http.StatusOK, recs)
}

// handleQuota reports today's quota consumption.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	day := types.DayBucket(time.Now())
	used, err := s.ledger.CountForDay(r.Context(), day)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to read ledger: "+err.Error())
		return
	}

	remaining := 0
	if s.maxPerDay > 0 && used < s.maxPerDay {
		remaining = s.maxPerDay - used
	}
	s.jsonResponse(w, http.StatusOK, QuotaResponse{
		Day:       day.Format("2006-01-02"),
		Used:      used,
		MaxPerDay: s.maxPerDay,
		Remaining: remaining,
	})
}

// handlePause suspends scheduled ticking. In-flight runs finish normally.
func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.sched.Pause()
	s.jsonResponse(w, http.StatusOK, SchedulerStatusResponse{Paused: true})
}

// handleResume restarts scheduled ticking.
func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.sched.Resume()
	s.jsonResponse(w, http.StatusOK, SchedulerStatusResponse{Paused: false})
}

// handleSchedulerStatus reports whether the scheduler is paused.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, SchedulerStatusResponse{Paused: s.sched.Paused()})
}

// denyStatus maps a scheduler denial onto an HTTP status code.
func denyStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, scheduler.ErrRunInFlight):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrPaused):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrTooSoon):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
