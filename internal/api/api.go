// Package api serves the dashboard read API and the scheduler control API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/quota"
	"github.com/spigell/jobhunter/internal/scheduler"
	"github.com/spigell/jobhunter/internal/store"
)

const shutdownTimeout = 10 * time.Second

type Store interface {
	QueryPostings(ctx context.Context, f store.PostingFilter) (*store.PostingPage, error)
	GetPosting(ctx context.Context, id string) (*jobs.Posting, error)
	ListApplications(ctx context.Context, status jobs.Status, limit int) ([]jobs.Application, error)
	GetApplication(ctx context.Context, id string) (*jobs.Application, error)
	UpdateApplicationStatus(ctx context.Context, id string, to jobs.Status) (*jobs.Application, error)
	Stats(ctx context.Context, dayStart time.Time) (*jobs.Stats, error)
}

// EventLog is the event sink as seen by the dashboard.
type EventLog interface {
	List(ctx context.Context, limit int, level jobs.Level) ([]jobs.LogEvent, error)
	Clear(ctx context.Context) (int64, error)
	Record(ctx context.Context, level jobs.Level, component, message string, details map[string]any)
}

type Scheduler interface {
	Start(interval time.Duration) error
	Stop() error
	Trigger(cycle string) error
	Status() scheduler.Status
}

type Quota interface {
	Snapshot(ctx context.Context) (quota.Snapshot, error)
}

type Deps struct {
	Store     Store
	Events    EventLog
	Scheduler Scheduler
	Quota     Quota
}

type Options struct {
	// Interval is used by start requests that do not name one.
	Interval time.Duration
	Location *time.Location
	Version  string
	// Settings is served read-only under /api/settings. Keep secrets out of it.
	Settings any
}

type Server struct {
	deps   Deps
	logger *zap.Logger
	opts   Options
	engine *gin.Engine
	now    func() time.Time
}

func New(deps Deps, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{deps: deps, logger: logger, opts: opts, now: time.Now}

	r := gin.New()
	r.Use(requestID(), accessLog(logger), recovery(logger))
	s.routes(r)
	s.engine = r

	return s
}

func (s *Server) routes(r *gin.Engine) {
	api := r.Group("/api")

	api.GET("/health", s.health)
	api.GET("/stats", s.stats)
	api.GET("/settings", s.settings)

	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)

	api.GET("/applications", s.listApplications)
	api.GET("/applications/:id", s.getApplication)
	api.PATCH("/applications/:id", s.updateApplication)

	api.GET("/logs", s.listLogs)
	api.DELETE("/logs", s.clearLogs)

	sched := api.Group("/scheduler")
	sched.GET("", s.schedulerStatus)
	sched.POST("/start", s.startScheduler)
	sched.POST("/stop", s.stopScheduler)
	sched.POST("/run/:cycle", s.runCycle)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving dashboard api", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	return nil
}
