// Package quota owns the daily application counter. The count lives in the
// store and is shared by every process using it: a daemon and a one-shot CLI
// run draw from the same daily budget.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrExhausted means no send slot is left today. It ends a dispatch cycle early
// and is not a failure.
var ErrExhausted = errors.New("daily quota exhausted")

const (
	dayLayout = "2006-01-02"

	// DefaultLease bounds how long a reservation survives without a commit or
	// release, which only matters when its holder died.
	DefaultLease = 15 * time.Minute
)

// Store keeps the per-day counters. ReserveQuota must check and claim a slot
// atomically across processes.
type Store interface {
	LoadQuota(ctx context.Context, day string, at time.Time) (sent, reserved int, err error)
	ReserveQuota(ctx context.Context, day string, max int, at, until time.Time) (bool, error)
	CommitQuota(ctx context.Context, day string) (int, error)
	ReleaseQuota(ctx context.Context, day string) error
}

// Snapshot is a consistent read of the tracker state.
type Snapshot struct {
	Day      string `json:"day"`
	Sent     int    `json:"sent"`
	Reserved int    `json:"reserved"`
	Max      int    `json:"max_per_day"`
}

func (s Snapshot) Remaining() int {
	left := s.Max - s.Sent - s.Reserved
	if left < 0 {
		return 0
	}
	return left
}

type Tracker struct {
	mu    sync.Mutex
	store Store
	max   int
	loc   *time.Location
	now   func() time.Time
	lease time.Duration
	// held are the days of reservations this tracker has not settled yet,
	// oldest first, so a send that crosses midnight settles the right day.
	held []string
}

// New builds a tracker for maxPerDay sends per local day in loc.
func New(store Store, maxPerDay int, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	return &Tracker{
		store: store,
		max:   maxPerDay,
		loc:   loc,
		now:   time.Now,
		lease: DefaultLease,
	}
}

// WithLease sets how long a reservation is kept for its holder. It should
// cover one whole attempt.
func (t *Tracker) WithLease(d time.Duration) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d > 0 {
		t.lease = d
	}
	return t
}

func (t *Tracker) today(now time.Time) string {
	return now.In(t.loc).Format(dayLayout)
}

// Reserve claims a send slot for the current day.
func (t *Tracker) Reserve(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	day := t.today(now)

	ok, err := t.store.ReserveQuota(ctx, day, t.max, now, now.Add(t.lease))
	if err != nil {
		return fmt.Errorf("reserving quota for %s: %w", day, err)
	}
	if !ok {
		return ErrExhausted
	}

	t.held = append(t.held, day)
	return nil
}

// Release gives back a slot reserved for an attempt that did not send.
func (t *Tracker) Release(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	day, ok := t.settle()
	if !ok {
		return nil
	}
	if err := t.store.ReleaseQuota(ctx, day); err != nil {
		return fmt.Errorf("releasing quota for %s: %w", day, err)
	}
	return nil
}

// Commit turns a reservation into a permanent send. When persisting fails the
// reservation stays in the store until its lease ends, so the slot is not
// handed out again meanwhile.
func (t *Tracker) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	day, ok := t.settle()
	if !ok {
		day = t.today(t.now())
	}
	if _, err := t.store.CommitQuota(ctx, day); err != nil {
		return fmt.Errorf("saving quota for %s: %w", day, err)
	}
	return nil
}

// settle pops the oldest held reservation. mu must be held.
func (t *Tracker) settle() (string, bool) {
	if len(t.held) == 0 {
		return "", false
	}
	day := t.held[0]
	t.held = t.held[1:]
	return day, true
}

// Snapshot returns the shared state for the current day.
func (t *Tracker) Snapshot(ctx context.Context) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	day := t.today(now)

	sent, reserved, err := t.store.LoadQuota(ctx, day, now)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading quota for %s: %w", day, err)
	}

	return Snapshot{Day: day, Sent: sent, Reserved: reserved, Max: t.max}, nil
}
