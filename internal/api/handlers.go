package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/quota"
	"github.com/spigell/jobhunter/internal/scheduler"
	"github.com/spigell/jobhunter/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": s.now().UTC(),
		"version":   s.opts.Version,
	})
}

type statsResponse struct {
	*jobs.Stats
	SchedulerRunning bool            `json:"scheduler_running"`
	Quota            *quota.Snapshot `json:"quota,omitempty"`
}

func (s *Server) stats(c *gin.Context) {
	ctx := c.Request.Context()

	now := s.now().In(s.opts.Location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.opts.Location)

	st, err := s.deps.Store.Stats(ctx, dayStart)
	if err != nil {
		s.failErr(c, err)
		return
	}

	resp := statsResponse{Stats: st, SchedulerRunning: s.deps.Scheduler.Status().Running}
	if s.deps.Quota != nil {
		snap, err := s.deps.Quota.Snapshot(ctx)
		if err != nil {
			s.failErr(c, err)
			return
		}
		resp.Quota = &snap
	}

	ok(c, http.StatusOK, resp)
}

func (s *Server) settings(c *gin.Context) {
	ok(c, http.StatusOK, s.opts.Settings)
}

func (s *Server) listJobs(c *gin.Context) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	perPage, err := intQuery(c, "per_page", 0)
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	result, err := s.deps.Store.QueryPostings(c.Request.Context(), store.PostingFilter{
		Search:   c.Query("search"),
		Page:     page,
		PageSize: perPage,
	})
	if err != nil {
		s.failErr(c, err)
		return
	}

	ok(c, http.StatusOK, result)
}

func (s *Server) getJob(c *gin.Context) {
	p, err := s.deps.Store.GetPosting(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) listApplications(c *gin.Context) {
	var status jobs.Status
	if raw := c.Query("status"); raw != "" {
		parsed, err := jobs.ParseStatus(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		status = parsed
	}

	limit, err := limitQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	apps, err := s.deps.Store.ListApplications(c.Request.Context(), status, limit)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"applications": apps, "count": len(apps)})
}

func (s *Server) getApplication(c *gin.Context) {
	app, err := s.deps.Store.GetApplication(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, app)
}

type statusUpdate struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) updateApplication(c *gin.Context) {
	var req statusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", "body must be {\"status\": \"...\"}")
		return
	}

	to, err := jobs.ParseStatus(req.Status)
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	app, err := s.deps.Store.UpdateApplicationStatus(c.Request.Context(), c.Param("id"), to)
	if err != nil {
		s.failErr(c, err)
		return
	}

	s.deps.Events.Record(c.Request.Context(), jobs.LevelInfo, "api", "application status updated", map[string]any{
		"application_id": app.ID,
		"status":         string(app.Status),
	})
	ok(c, http.StatusOK, app)
}

func (s *Server) listLogs(c *gin.Context) {
	level, err := jobs.ParseLevel(c.Query("level"))
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit, err := limitQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	events, err := s.deps.Events.List(c.Request.Context(), limit, level)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"logs": events, "count": len(events)})
}

func (s *Server) clearLogs(c *gin.Context) {
	n, err := s.deps.Events.Clear(c.Request.Context())
	if err != nil {
		s.failErr(c, err)
		return
	}
	okMessage(c, "logs cleared", gin.H{"deleted": n})
}

func (s *Server) schedulerStatus(c *gin.Context) {
	ok(c, http.StatusOK, s.deps.Scheduler.Status())
}

type startRequest struct {
	Interval string `json:"interval"`
}

func (s *Server) startScheduler(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}

	interval := s.opts.Interval
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil || d <= 0 {
			fail(c, http.StatusBadRequest, "bad_request", "interval must be a positive duration like 6h")
			return
		}
		interval = d
	}

	if err := s.deps.Scheduler.Start(interval); err != nil {
		s.failErr(c, err)
		return
	}
	okMessage(c, "scheduler started", s.deps.Scheduler.Status())
}

func (s *Server) stopScheduler(c *gin.Context) {
	err := s.deps.Scheduler.Stop()
	switch {
	case errors.Is(err, scheduler.ErrNotRunning):
		okMessage(c, "scheduler is not running", s.deps.Scheduler.Status())
	case err != nil:
		s.failErr(c, err)
	default:
		okMessage(c, "scheduler stopped", s.deps.Scheduler.Status())
	}
}

func (s *Server) runCycle(c *gin.Context) {
	cycle := c.Param("cycle")
	if err := s.deps.Scheduler.Trigger(cycle); err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, envelope{Success: true, Message: cycle + " cycle started"})
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return v, nil
}

func limitQuery(c *gin.Context) (int, error) {
	limit, err := intQuery(c, "limit", defaultListLimit)
	if err != nil {
		return 0, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
