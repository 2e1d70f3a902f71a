package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spigell/jobhunter/internal/jobs"
)

type memRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (m *memRecorder) Record(_ context.Context, _ jobs.Level, _, message string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
}

func (m *memRecorder) count(message string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg == message {
			n++
		}
	}
	return n
}

const skipped = "cycle skipped, previous run still in flight"

// slowCycle blocks until released or cancelled and counts its runs.
type slowCycle struct {
	runs      atomic.Int32
	started   chan struct{}
	release   chan struct{}
	cancelled atomic.Bool
	ignoreCtx bool
}

func newSlowCycle() *slowCycle {
	return &slowCycle{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (c *slowCycle) run(ctx context.Context) error {
	c.runs.Add(1)
	c.started <- struct{}{}
	if c.ignoreCtx {
		<-c.release
		return nil
	}
	select {
	case <-c.release:
		return nil
	case <-ctx.Done():
		c.cancelled.Store(true)
		return ctx.Err()
	}
}

func waitIdle(t *testing.T, s *Scheduler, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := s.Status().LastRuns[name]
		return ok && len(s.Status().InFlight) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartStopStateMachine(t *testing.T) {
	events := &memRecorder{}
	s := New(map[string]Cycle{CycleSearch: func(context.Context) error { return nil }}, nil, events, nil, Options{
		SearchTimes: []string{"09:00", "18:30"},
	})

	require.Equal(t, StateStopped, s.Status().State)
	require.ErrorIs(t, s.Stop(), ErrNotRunning)

	require.NoError(t, s.Start(time.Hour))
	st := s.Status()
	require.Equal(t, StateRunning, st.State)
	require.True(t, st.Running)
	require.Equal(t, "1h0m0s", st.Interval)
	require.NotNil(t, st.NextSearch)

	require.ErrorIs(t, s.Start(time.Hour), ErrAlreadyRunning)

	require.NoError(t, s.Stop())
	require.Equal(t, StateStopped, s.Status().State)
	require.ErrorIs(t, s.Stop(), ErrNotRunning, "stop is a no-op when stopped")

	require.NoError(t, s.Start(time.Minute), "a stopped scheduler can start again")
	require.NoError(t, s.Stop())
	require.Equal(t, 2, events.count("scheduler started"))
}

func TestStartRejectsBadConfig(t *testing.T) {
	s := New(map[string]Cycle{}, nil, &memRecorder{}, nil, Options{SearchTimes: []string{"25:00"}})

	require.Error(t, s.Start(time.Hour))
	require.Equal(t, StateStopped, s.Status().State)
	require.Error(t, s.Start(0))
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	events := &memRecorder{}
	slow := newSlowCycle()
	s := New(map[string]Cycle{CycleSearch: slow.run}, nil, events, nil, Options{})

	go s.tick(CycleSearch)
	<-slow.started

	s.tick(CycleSearch)
	require.Equal(t, int32(1), slow.runs.Load())
	require.Equal(t, 1, events.count(skipped))

	close(slow.release)
	waitIdle(t, s, CycleSearch)

	s.tick(CycleSearch)
	require.Equal(t, int32(2), slow.runs.Load())
}

func TestManualTriggerSharesTheFlag(t *testing.T) {
	events := &memRecorder{}
	slow := newSlowCycle()
	other := atomic.Int32{}
	s := New(map[string]Cycle{
		CycleSearch: slow.run,
		CycleApply:  func(context.Context) error { other.Add(1); return nil },
	}, nil, events, nil, Options{})

	require.NoError(t, s.Trigger(CycleSearch))
	require.ErrorIs(t, s.Trigger(CycleSearch), ErrCycleInFlight)
	require.ErrorIs(t, s.RunOnce(context.Background(), CycleSearch), ErrCycleInFlight)

	require.NoError(t, s.RunOnce(context.Background(), CycleApply), "other cycle types are independent")
	require.Equal(t, int32(1), other.Load())

	<-slow.started
	require.Equal(t, []string{CycleSearch}, s.Status().InFlight)

	close(slow.release)
	waitIdle(t, s, CycleSearch)
	require.Equal(t, int32(1), slow.runs.Load())
	require.Equal(t, 2, events.count(skipped))
}

func TestUnknownCycle(t *testing.T) {
	s := New(map[string]Cycle{}, nil, &memRecorder{}, nil, Options{})

	require.ErrorIs(t, s.Trigger("cleanup"), ErrUnknownCycle)
	require.ErrorIs(t, s.RunOnce(context.Background(), "cleanup"), ErrUnknownCycle)
}

func TestStopCancelsInFlightCycle(t *testing.T) {
	slow := newSlowCycle()
	s := New(map[string]Cycle{CycleSearch: slow.run}, nil, &memRecorder{}, nil, Options{GracePeriod: time.Second})

	require.NoError(t, s.Start(time.Hour))
	require.NoError(t, s.Trigger(CycleSearch))
	<-slow.started

	require.NoError(t, s.Stop())
	require.True(t, slow.cancelled.Load())
	require.Empty(t, s.Status().InFlight)
	require.Equal(t, context.Canceled.Error(), s.Status().LastRuns[CycleSearch].Error)
}

func TestStopGivesUpAfterGracePeriod(t *testing.T) {
	events := &memRecorder{}
	slow := newSlowCycle()
	slow.ignoreCtx = true
	s := New(map[string]Cycle{CycleSearch: slow.run}, nil, events, nil, Options{GracePeriod: 50 * time.Millisecond})

	require.NoError(t, s.Start(time.Hour))
	require.NoError(t, s.Trigger(CycleSearch))
	<-slow.started

	start := time.Now()
	require.NoError(t, s.Stop())
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, StateStopped, s.Status().State)

	close(slow.release)
	waitIdle(t, s, CycleSearch)
}

func TestShutdownCancelsManualRunOnStoppedScheduler(t *testing.T) {
	slow := newSlowCycle()
	s := New(map[string]Cycle{CycleApply: slow.run}, nil, &memRecorder{}, nil, Options{GracePeriod: time.Second})

	require.NoError(t, s.Trigger(CycleApply))
	<-slow.started

	require.ErrorIs(t, s.Stop(), ErrNotRunning)
	require.Equal(t, []string{CycleApply}, s.Status().InFlight, "stop leaves manual runs of a stopped scheduler alone")

	s.Shutdown()
	require.True(t, slow.cancelled.Load())
	require.Empty(t, s.Status().InFlight)
	require.Equal(t, context.Canceled.Error(), s.Status().LastRuns[CycleApply].Error)

	require.ErrorIs(t, s.Trigger(CycleApply), ErrClosed)
	require.ErrorIs(t, s.RunOnce(context.Background(), CycleApply), ErrClosed)
	require.ErrorIs(t, s.Start(time.Hour), ErrClosed)
	require.Equal(t, int32(1), slow.runs.Load())
}

func TestShutdownStopsRunningScheduler(t *testing.T) {
	events := &memRecorder{}
	slow := newSlowCycle()
	s := New(map[string]Cycle{CycleSearch: slow.run}, nil, events, nil, Options{GracePeriod: time.Second})

	require.NoError(t, s.Start(time.Hour))
	require.NoError(t, s.Trigger(CycleSearch))
	<-slow.started

	s.Shutdown()
	require.Equal(t, StateStopped, s.Status().State)
	require.True(t, slow.cancelled.Load())
	require.Equal(t, 1, events.count("scheduler stopped"))
}

func TestFailingCycleKeepsScheduling(t *testing.T) {
	events := &memRecorder{}
	calls := 0
	s := New(map[string]Cycle{CycleSearch: func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("database is gone")
		}
		if calls == 2 {
			panic("nil map")
		}
		return nil
	}}, nil, events, nil, Options{})

	require.Error(t, s.RunOnce(context.Background(), CycleSearch))
	require.Equal(t, "database is gone", s.Status().LastRuns[CycleSearch].Error)

	s.tick(CycleSearch)
	require.Contains(t, s.Status().LastRuns[CycleSearch].Error, "panicked")

	require.NoError(t, s.RunOnce(context.Background(), CycleSearch))
	require.Empty(t, s.Status().LastRuns[CycleSearch].Error)
	require.Equal(t, 2, events.count("cycle failed"))
	require.Equal(t, 1, events.count("cycle finished"))
}

func TestDailySpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		expect string
		err    bool
	}{
		{in: "09:00", expect: "0 9 * * *"},
		{in: "18:45", expect: "45 18 * * *"},
		{in: "9am", err: true},
		{in: "24:00", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := DailySpec(tt.in)
			if tt.err {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil || got != tt.expect {
				t.Fatalf("DailySpec(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}
