// Package scheduler drives the periodic cycles. Each cycle type runs at most
// once at a time: a tick or manual trigger that finds its cycle in flight is
// skipped and logged, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/lock"
)

const (
	component = "scheduler"

	CycleSearch = "search"
	CycleApply  = "apply"
	CycleReport = "report"

	DefaultGracePeriod = 30 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrCycleInFlight  = errors.New("cycle is already in flight")
	ErrUnknownCycle   = errors.New("unknown cycle")
	ErrClosed         = errors.New("scheduler is shut down")
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Cycle is one unit of scheduled work. It must return soon after ctx is done.
type Cycle func(ctx context.Context) error

type Recorder interface {
	Record(ctx context.Context, level jobs.Level, component, message string, details map[string]any)
}

type Options struct {
	// SearchTimes are extra daily search runs as "HH:MM".
	SearchTimes []string
	// ApplyInterval schedules the apply cycle. Zero leaves applying manual.
	ApplyInterval time.Duration
	// DailyReport is the "HH:MM" the report cycle runs at. Empty disables it.
	DailyReport string
	GracePeriod time.Duration
	Location    *time.Location
}

// Run describes the latest execution of a cycle.
type Run struct {
	Trigger    string     `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type Status struct {
	State      State          `json:"state"`
	Running    bool           `json:"running"`
	Interval   string         `json:"interval,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	NextSearch *time.Time     `json:"next_search,omitempty"`
	InFlight   []string       `json:"in_flight"`
	LastRuns   map[string]Run `json:"last_runs"`
}

type execution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	cycles map[string]Cycle
	locker lock.Locker
	events Recorder
	logger *zap.Logger
	opts   Options

	// root outlives Start/Stop so manual runs on a stopped scheduler can
	// still be cancelled by Shutdown.
	root       context.Context
	rootCancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	state     State
	interval  time.Duration
	startedAt time.Time
	cron      *cron.Cron
	searchID  cron.EntryID
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  map[string]*execution
	lastRuns  map[string]Run
}

// New builds a stopped scheduler. A nil locker keeps flags in memory.
func New(cycles map[string]Cycle, locker lock.Locker, ev Recorder, logger *zap.Logger, opts Options) *Scheduler {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	root, rootCancel := context.WithCancel(context.Background())

	return &Scheduler{
		cycles:     cycles,
		locker:     locker,
		events:     ev,
		logger:     logger,
		opts:       opts,
		root:       root,
		rootCancel: rootCancel,
		state:      StateStopped,
		inflight:   map[string]*execution{},
		lastRuns:   map[string]Run{},
	}
}

// Start schedules the search cycle every interval plus the configured daily
// runs. It fails with ErrAlreadyRunning unless the scheduler is stopped.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("search interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.mu.Unlock()

	c, searchID, err := s.buildCron(interval)
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(s.root)

	s.mu.Lock()
	s.cron = c
	s.searchID = searchID
	s.ctx = ctx
	s.cancel = cancel
	s.interval = interval
	s.startedAt = time.Now()
	s.state = StateRunning
	s.mu.Unlock()

	c.Start()

	s.events.Record(ctx, jobs.LevelInfo, component, "scheduler started", map[string]any{
		"interval":       interval.String(),
		"search_times":   s.opts.SearchTimes,
		"apply_interval": s.opts.ApplyInterval.String(),
	})
	return nil
}

func (s *Scheduler) buildCron(interval time.Duration) (*cron.Cron, cron.EntryID, error) {
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithChain(cron.Recover(cronLogger{s.logger.Sugar()})),
	)

	searchID := c.Schedule(cron.Every(interval), cron.FuncJob(func() { s.tick(CycleSearch) }))

	for _, at := range s.opts.SearchTimes {
		spec, err := DailySpec(at)
		if err != nil {
			return nil, 0, err
		}
		if _, err := c.AddFunc(spec, func() { s.tick(CycleSearch) }); err != nil {
			return nil, 0, fmt.Errorf("scheduling search at %s: %w", at, err)
		}
	}

	if s.opts.ApplyInterval > 0 {
		if _, ok := s.cycles[CycleApply]; ok {
			c.Schedule(cron.Every(s.opts.ApplyInterval), cron.FuncJob(func() { s.tick(CycleApply) }))
		}
	}

	if s.opts.DailyReport != "" {
		if _, ok := s.cycles[CycleReport]; ok {
			spec, err := DailySpec(s.opts.DailyReport)
			if err != nil {
				return nil, 0, err
			}
			if _, err := c.AddFunc(spec, func() { s.tick(CycleReport) }); err != nil {
				return nil, 0, fmt.Errorf("scheduling daily report: %w", err)
			}
		}
	}

	return c, searchID, nil
}

// Stop cancels every in-flight cycle and waits for them up to the grace
// period before giving up on them. Calling it on a stopped scheduler changes
// nothing and returns ErrNotRunning; use Shutdown to end manual runs too.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cronDone := c.Stop()
	cancel()
	abandoned := s.drain(cronDone.Done())

	s.mu.Lock()
	s.state = StateStopped
	s.cron = nil
	s.mu.Unlock()

	details := map[string]any{}
	level := jobs.LevelInfo
	if abandoned > 0 {
		level = jobs.LevelWarning
		details["abandoned_cycles"] = abandoned
	}
	s.events.Record(context.Background(), level, component, "scheduler stopped", details)
	return nil
}

// Shutdown stops the scheduler when it runs, then cancels whatever cycle is
// still in flight, manual runs included, and waits for it up to the grace
// period. Nothing can be started afterwards.
func (s *Scheduler) Shutdown() {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		s.logger.Warn("stopping the scheduler", zap.Error(err))
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.rootCancel()

	if abandoned := s.drain(nil); abandoned > 0 {
		s.events.Record(context.Background(), jobs.LevelWarning, component, "cycles abandoned at shutdown", map[string]any{
			"abandoned_cycles": abandoned,
		})
	}
}

// drain cancels the executions in flight and waits for them, and for also when
// set, until the grace period runs out. It returns how many did not finish.
func (s *Scheduler) drain(also <-chan struct{}) int {
	s.mu.Lock()
	running := make([]*execution, 0, len(s.inflight))
	for _, e := range s.inflight {
		running = append(running, e)
	}
	s.mu.Unlock()

	for _, e := range running {
		e.cancel()
	}

	grace, cancel := context.WithTimeout(context.Background(), s.opts.GracePeriod)
	defer cancel()

	abandoned := 0
	for _, e := range running {
		select {
		case <-e.done:
		case <-grace.Done():
			abandoned++
		}
	}
	if also != nil {
		select {
		case <-also:
		case <-grace.Done():
		}
	}
	return abandoned
}

// RunOnce executes a cycle synchronously under the same non-overlap rule as
// scheduled ticks.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	cycle, ok := s.cycles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCycle, name)
	}

	if err := s.claim(ctx, name, "manual"); err != nil {
		return err
	}
	return s.execute(ctx, name, "manual", cycle)
}

// Trigger starts a cycle in the background. The flag is claimed before it
// returns, so a second Trigger right after gets ErrCycleInFlight.
func (s *Scheduler) Trigger(name string) error {
	cycle, ok := s.cycles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCycle, name)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ctx := s.baseContext()
	if err := s.claim(ctx, name, "manual"); err != nil {
		return err
	}

	go func() {
		_ = s.execute(ctx, name, "manual", cycle)
	}()
	return nil
}

func (s *Scheduler) tick(name string) {
	cycle, ok := s.cycles[name]
	if !ok {
		return
	}

	// a job cron fires while Stop is draining would escape the drain
	s.mu.Lock()
	stopping := s.state == StateStopping
	s.mu.Unlock()
	if stopping {
		return
	}

	ctx := s.baseContext()
	if err := s.claim(ctx, name, "schedule"); err != nil {
		return
	}
	_ = s.execute(ctx, name, "schedule", cycle)
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil && s.state == StateRunning {
		return s.ctx
	}
	return s.root
}

func (s *Scheduler) claim(ctx context.Context, name, trigger string) error {
	ok, err := s.locker.TryLock(ctx, name)
	if err != nil {
		s.events.Record(ctx, jobs.LevelError, component, "claiming cycle flag failed", map[string]any{
			"cycle": name, "error": err.Error(),
		})
		return err
	}
	if !ok {
		s.events.Record(ctx, jobs.LevelWarning, component, "cycle skipped, previous run still in flight", map[string]any{
			"cycle": name, "trigger": trigger,
		})
		return ErrCycleInFlight
	}
	return nil
}

// execute runs a claimed cycle and releases its flag.
func (s *Scheduler) execute(ctx context.Context, name, trigger string, cycle Cycle) error {
	runCtx, cancel := context.WithCancel(ctx)
	e := &execution{cancel: cancel, done: make(chan struct{})}
	started := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		s.unlock(ctx, name)
		return ErrClosed
	}
	s.inflight[name] = e
	s.lastRuns[name] = Run{Trigger: trigger, StartedAt: started}
	s.mu.Unlock()

	defer func() {
		cancel()
		s.unlock(ctx, name)

		s.mu.Lock()
		delete(s.inflight, name)
		s.mu.Unlock()
		close(e.done)
	}()

	err := s.guard(runCtx, cycle)
	finished := time.Now()

	run := Run{Trigger: trigger, StartedAt: started, FinishedAt: &finished}
	details := map[string]any{
		"cycle":    name,
		"trigger":  trigger,
		"duration": finished.Sub(started).Round(time.Millisecond).String(),
	}

	// the outcome is recorded even when the cycle ended because ctx did
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		run.Error = err.Error()
		details["error"] = err.Error()
		s.events.Record(recordCtx, jobs.LevelError, component, "cycle failed", details)
	} else {
		s.events.Record(recordCtx, jobs.LevelInfo, component, "cycle finished", details)
	}

	s.mu.Lock()
	s.lastRuns[name] = run
	s.mu.Unlock()

	return err
}

func (s *Scheduler) unlock(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.locker.Unlock(ctx, name); err != nil {
		s.logger.Error("releasing cycle flag", zap.String("cycle", name), zap.Error(err))
	}
}

// guard turns a panicking cycle into an error so scheduling carries on.
func (s *Scheduler) guard(ctx context.Context, cycle Cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return cycle(ctx)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:    s.state,
		Running:  s.state == StateRunning,
		InFlight: make([]string, 0, len(s.inflight)),
		LastRuns: make(map[string]Run, len(s.lastRuns)),
	}
	for name := range s.inflight {
		st.InFlight = append(st.InFlight, name)
	}
	sort.Strings(st.InFlight)
	for name, run := range s.lastRuns {
		st.LastRuns[name] = run
	}

	if st.Running {
		started := s.startedAt
		st.StartedAt = &started
		st.Interval = s.interval.String()
		if next := s.cron.Entry(s.searchID).Next; !next.IsZero() {
			st.NextSearch = &next
		}
	}
	return st
}

// DailySpec turns "HH:MM" into a cron spec firing once a day at that time.
func DailySpec(clock string) (string, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return "", fmt.Errorf("invalid time of day %q, want HH:MM", clock)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
