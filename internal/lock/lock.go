// Package lock provides the per-cycle flags that keep two runs of the same
// cycle from overlapping. A held flag means "skip", never "wait".
package lock

import (
	"context"
	"sync"
)

// Locker claims named flags.
type Locker interface {
	// TryLock reports whether the flag was claimed. It never blocks on a held flag.
	TryLock(ctx context.Context, name string) (bool, error)
	Unlock(ctx context.Context, name string) error
}

// Local keeps flags in process memory.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocal() *Local {
	return &Local{held: map[string]bool{}}
}

func (l *Local) TryLock(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[name] {
		return false, nil
	}
	l.held[name] = true
	return true, nil
}

func (l *Local) Unlock(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, name)
	return nil
}

// Held reports whether name is currently claimed.
func (l *Local) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}
