// Package events is the append-only event log every engine component writes to.
// Entries are persisted for the dashboard and mirrored to zap for the console.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/store"
)

const (
	DefaultMaxEntries = 1000
	writeTimeout      = 5 * time.Second
)

// Store is the persistence the sink needs.
type Store interface {
	AppendEvent(ctx context.Context, ev jobs.LogEvent) (int64, error)
	PruneEvents(ctx context.Context, max int) (int64, error)
	ListEvents(ctx context.Context, f store.EventFilter) ([]jobs.LogEvent, error)
	ClearEvents(ctx context.Context) (int64, error)
}

type Sink struct {
	store      Store
	logger     *zap.Logger
	maxEntries int
	now        func() time.Time
}

// New builds a sink. A nil store turns it into a log-only sink.
func New(st Store, logger *zap.Logger, maxEntries int) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Sink{
		store:      st,
		logger:     logger,
		maxEntries: maxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sink) Info(ctx context.Context, component, message string, details map[string]any) {
	s.Record(ctx, jobs.LevelInfo, component, message, details)
}

func (s *Sink) Warning(ctx context.Context, component, message string, details map[string]any) {
	s.Record(ctx, jobs.LevelWarning, component, message, details)
}

func (s *Sink) Error(ctx context.Context, component, message string, details map[string]any) {
	s.Record(ctx, jobs.LevelError, component, message, details)
}

func (s *Sink) Success(ctx context.Context, component, message string, details map[string]any) {
	s.Record(ctx, jobs.LevelSuccess, component, message, details)
}

// Record appends an event and mirrors it to the logger. It never fails the
// caller: a write error is reported to the logger only. The write survives
// cancellation of ctx so "cycle cancelled" events still land.
func (s *Sink) Record(ctx context.Context, level jobs.Level, component, message string, details map[string]any) {
	ev := jobs.LogEvent{
		Timestamp: s.now(),
		Level:     level,
		Component: component,
		Message:   message,
		Details:   details,
	}

	s.mirror(ev)

	if s.store == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if _, err := s.store.AppendEvent(writeCtx, ev); err != nil {
		s.logger.Error("recording event", zap.String("component", component), zap.String("message", message), zap.Error(err))
		return
	}

	if _, err := s.store.PruneEvents(writeCtx, s.maxEntries); err != nil {
		s.logger.Warn("pruning events", zap.Error(err))
	}
}

func (s *Sink) mirror(ev jobs.LogEvent) {
	fields := make([]zap.Field, 0, len(ev.Details)+1)
	fields = append(fields, zap.String("component", ev.Component))
	for k, v := range ev.Details {
		fields = append(fields, zap.Any(k, v))
	}

	switch ev.Level {
	case jobs.LevelError:
		s.logger.Error(ev.Message, fields...)
	case jobs.LevelWarning:
		s.logger.Warn(ev.Message, fields...)
	case jobs.LevelSuccess:
		s.logger.Info(ev.Message, append(fields, zap.Bool("success", true))...)
	default:
		s.logger.Info(ev.Message, fields...)
	}
}

// List returns the newest events, optionally of a single level.
func (s *Sink) List(ctx context.Context, limit int, level jobs.Level) ([]jobs.LogEvent, error) {
	if s.store == nil {
		return []jobs.LogEvent{}, nil
	}
	return s.store.ListEvents(ctx, store.EventFilter{Limit: limit, Level: level})
}

// Clear truncates the log and reports how many entries were dropped.
func (s *Sink) Clear(ctx context.Context) (int64, error) {
	if s.store == nil {
		return 0, nil
	}
	return s.store.ClearEvents(ctx)
}
