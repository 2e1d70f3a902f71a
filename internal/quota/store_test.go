package quota_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spigell/jobhunter/internal/quota"
	"github.com/spigell/jobhunter/internal/store"
)

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()

	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

// Two processes sharing one database file draw from one daily budget.
func TestTrackersOnOneDatabaseShareTheBudget(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobhunter.db")
	cli := quota.New(openStore(t, path), 2, time.UTC)
	daemon := quota.New(openStore(t, path), 2, time.UTC)

	sends := 0
	for _, tr := range []*quota.Tracker{cli, cli, daemon, daemon} {
		err := tr.Reserve(ctx)
		if errors.Is(err, quota.ErrExhausted) {
			continue
		}
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := tr.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		sends++
	}

	if sends != 2 {
		t.Fatalf("expected 2 sends in total, got %d", sends)
	}

	for _, tr := range []*quota.Tracker{cli, daemon} {
		snap, err := tr.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Sent != 2 || snap.Reserved != 0 {
			t.Fatalf("unexpected snapshot: %+v", snap)
		}
	}
}

func TestReservationBlocksTheOtherProcess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobhunter.db")
	cli := quota.New(openStore(t, path), 1, time.UTC)
	daemon := quota.New(openStore(t, path), 1, time.UTC)

	if err := cli.Reserve(ctx); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := daemon.Reserve(ctx); !errors.Is(err, quota.ErrExhausted) {
		t.Fatalf("the last slot is taken by an in-flight send, got %v", err)
	}

	if err := cli.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := daemon.Reserve(ctx); err != nil {
		t.Fatalf("expected the released slot, got %v", err)
	}
}
