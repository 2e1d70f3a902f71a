package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/spigell/jobhunter/internal/jobs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "jobhunter.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func raw(platform, id, title string) jobs.RawPosting {
	return jobs.RawPosting{
		Platform:     platform,
		ExternalID:   id,
		Title:        title,
		Company:      "Acme",
		Location:     "Remote",
		Description:  "Python and Docker",
		ContactEmail: "jobs@acme.test",
		URL:          "https://acme.test/jobs/" + id,
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "123", "Backend developer")})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotEmpty(t, first[0].ID)
	require.Nil(t, first[0].MatchScore)

	second, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "123", "Changed title")})
	require.NoError(t, err)
	require.Empty(t, second)

	stored, err := s.GetPosting(ctx, first[0].ID)
	require.NoError(t, err)
	require.Equal(t, "Backend developer", stored.Title, "duplicate must not overwrite")

	page, err := s.QueryPostings(ctx, PostingFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
}

func TestIngestSameKeyFromConcurrentScrapers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
		errs  []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "123", "Backend developer")})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			total += len(stored)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, total)

	page, err := s.QueryPostings(ctx, PostingFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
}

func TestIngestKeepsGoodRecordsWhenOneIsInvalid(t *testing.T) {
	s := newTestStore(t)

	stored, err := s.Ingest(context.Background(), []jobs.RawPosting{
		raw("indeed", "1", "First"),
		{Platform: "indeed", Title: "No identity"},
		raw("indeed", "2", "Second"),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, jobs.ErrNoDedupKey)
	require.Len(t, stored, 2)
	require.Equal(t, "First", stored[0].Title)
	require.Equal(t, "Second", stored[1].Title)
}

func TestIngestUsesNormalizedURLWithoutExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := jobs.RawPosting{Platform: "linkedin", Title: "Go", URL: "https://LinkedIn.com/jobs/view/42/?trk=feed"}
	b := jobs.RawPosting{Platform: "linkedin", Title: "Go", URL: "https://linkedin.com/jobs/view/42"}

	stored, err := s.Ingest(ctx, []jobs.RawPosting{a, b})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "https://linkedin.com/jobs/view/42", stored[0].ExternalID)
}

func TestQueryPostingsPaginatesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		title := fmt.Sprintf("Engineer %d", i)
		if i == 3 {
			title = "Python Wizard"
		}
		_, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", fmt.Sprint(i), title)})
		require.NoError(t, err)
	}

	page, err := s.QueryPostings(ctx, PostingFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Equal(t, 3, page.Pages)
	require.Len(t, page.Items, 2)
	require.Equal(t, "Engineer 4", page.Items[0].Title)
	require.Equal(t, "Python Wizard", page.Items[1].Title)

	last, err := s.QueryPostings(ctx, PostingFilter{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	require.Equal(t, "Engineer 0", last.Items[0].Title)

	found, err := s.QueryPostings(ctx, PostingFilter{Search: "python wiz"})
	require.NoError(t, err)
	require.Equal(t, 1, found.Total)

	capped, err := s.QueryPostings(ctx, PostingFilter{PageSize: 1000})
	require.NoError(t, err)
	require.Equal(t, maxPageSize, capped.PageSize)
}

func TestApplicationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "1", "Backend developer")})
	require.NoError(t, err)
	p := stored[0]
	require.NoError(t, s.SetMatchScore(ctx, p.ID, 0.9))

	eligible, err := s.EligiblePostings(ctx, 0.7, 2)
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	app, err := s.BeginAttempt(ctx, eligible[0], Attempt{Channel: "email", Recipient: "jobs@acme.test"}, 2)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusPending, app.Status)
	require.Equal(t, 1, app.Attempts)

	_, err = s.BeginAttempt(ctx, p, Attempt{Channel: "email"}, 2)
	require.ErrorIs(t, err, ErrConflict, "a pending application blocks a second one")

	eligible, err = s.EligiblePostings(ctx, 0.7, 2)
	require.NoError(t, err)
	require.Empty(t, eligible)

	require.NoError(t, s.MarkFailed(ctx, app.ID, "smtp 421", true))

	eligible, err = s.EligiblePostings(ctx, 0.7, 2)
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	retry, err := s.BeginAttempt(ctx, p, Attempt{Channel: "email", Recipient: "jobs@acme.test"}, 2)
	require.NoError(t, err)
	require.Equal(t, app.ID, retry.ID)
	require.Equal(t, 2, retry.Attempts)

	sentAt := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkSent(ctx, retry.ID, "Subject", "Body", sentAt))
	require.ErrorIs(t, s.MarkSent(ctx, retry.ID, "Subject", "Body", sentAt), ErrConflict)

	got, err := s.GetApplication(ctx, retry.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusSent, got.Status)
	require.Equal(t, "Body", got.CoverLetter)
	require.Equal(t, "Backend developer", got.Title)
	require.NotNil(t, got.SentAt)
	require.True(t, got.SentAt.Equal(sentAt))

	eligible, err = s.EligiblePostings(ctx, 0.7, 2)
	require.NoError(t, err)
	require.Empty(t, eligible)
}

func TestFailedAttemptsAreBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "1", "Backend developer")})
	require.NoError(t, err)
	p := stored[0]
	require.NoError(t, s.SetMatchScore(ctx, p.ID, 0.9))

	app, err := s.BeginAttempt(ctx, p, Attempt{Channel: "email"}, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, app.ID, "timeout", true))

	eligible, err := s.EligiblePostings(ctx, 0.7, 1)
	require.NoError(t, err)
	require.Empty(t, eligible, "attempts already reached the maximum")

	_, err = s.BeginAttempt(ctx, p, Attempt{Channel: "email"}, 1)
	require.ErrorIs(t, err, ErrConflict)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "1", "Backend developer")})
	require.NoError(t, err)
	require.NoError(t, s.SetMatchScore(ctx, stored[0].ID, 0.9))

	app, err := s.BeginAttempt(ctx, stored[0], Attempt{Channel: "email"}, 3)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, app.ID, "550 mailbox unavailable", false))

	eligible, err := s.EligiblePostings(ctx, 0.7, 3)
	require.NoError(t, err)
	require.Empty(t, eligible)
}

func TestRecoverPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	began := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return began }

	stored, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "1", "Backend developer")})
	require.NoError(t, err)
	app, err := s.BeginAttempt(ctx, stored[0], Attempt{Channel: "email"}, 2)
	require.NoError(t, err)

	s.now = func() time.Time { return began.Add(time.Hour) }
	n, err := s.RecoverPending(ctx, began.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, got.Status)
	require.True(t, got.Retryable)
}

func TestRecoverPendingSparesAttemptsInFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	began := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return began }

	stored, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "1", "Backend developer")})
	require.NoError(t, err)
	require.NoError(t, s.SetMatchScore(ctx, stored[0].ID, 0.9))
	app, err := s.BeginAttempt(ctx, stored[0], Attempt{Channel: "email"}, 3)
	require.NoError(t, err)

	// another process starts while the send above is still running
	s.now = func() time.Time { return began.Add(10 * time.Second) }
	n, err := s.RecoverPending(ctx, began.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := s.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusPending, got.Status)

	eligible, err := s.EligiblePostings(ctx, 0.7, 3)
	require.NoError(t, err)
	require.Empty(t, eligible)

	_, err = s.BeginAttempt(ctx, stored[0], Attempt{Channel: "email"}, 3)
	require.ErrorIs(t, err, ErrConflict)
}

func TestUpdateApplicationStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "1", "Backend developer")})
	require.NoError(t, err)
	app, err := s.BeginAttempt(ctx, stored[0], Attempt{Channel: "email"}, 2)
	require.NoError(t, err)

	_, err = s.UpdateApplicationStatus(ctx, app.ID, jobs.StatusInterview)
	require.ErrorIs(t, err, jobs.ErrInvalidTransition, "pending cannot jump to interview")

	_, err = s.UpdateApplicationStatus(ctx, app.ID, jobs.StatusSent)
	require.ErrorIs(t, err, jobs.ErrInvalidTransition, "sent belongs to the dispatcher")

	require.NoError(t, s.MarkSent(ctx, app.ID, "s", "b", time.Now()))

	got, err := s.UpdateApplicationStatus(ctx, app.ID, jobs.StatusInterview)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusInterview, got.Status)

	got, err = s.UpdateApplicationStatus(ctx, app.ID, jobs.StatusAccepted)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusAccepted, got.Status)

	_, err = s.UpdateApplicationStatus(ctx, "missing", jobs.StatusRejected)
	require.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListApplications(ctx, jobs.StatusAccepted, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.ListApplications(ctx, jobs.StatusFailed, 0)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestQuotaReservationsAreGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := at.Add(10 * time.Minute)

	sent, reserved, err := s.LoadQuota(ctx, "2026-01-01", at)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Zero(t, reserved)

	for i := 0; i < 2; i++ {
		ok, err := s.ReserveQuota(ctx, "2026-01-01", 2, at, until)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := s.ReserveQuota(ctx, "2026-01-01", 2, at, until)
	require.NoError(t, err)
	require.False(t, ok, "sent plus reserved may not pass the max")

	count, err := s.CommitQuota(ctx, "2026-01-01")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.NoError(t, s.ReleaseQuota(ctx, "2026-01-01"))

	sent, reserved, err = s.LoadQuota(ctx, "2026-01-01", at)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Zero(t, reserved)

	count, err = s.CommitQuota(ctx, "2026-01-02")
	require.NoError(t, err)
	require.Equal(t, 1, count, "a send without a reservation still counts")
}

func TestStaleQuotaReservationsAreReclaimed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ok, err := s.ReserveQuota(ctx, "2026-01-01", 1, at, at.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	_, reserved, err := s.LoadQuota(ctx, "2026-01-01", at.Add(2*time.Minute))
	require.NoError(t, err)
	require.Zero(t, reserved, "expired reservations are not reported")

	ok, err = s.ReserveQuota(ctx, "2026-01-01", 1, at.Add(2*time.Minute), at.Add(3*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBlacklistReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceBlacklist(ctx, []string{" Evil Corp ", "evil corp", "", "Initech"}))
	list, err := s.Blacklist(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"evil corp", "initech"}, list)

	require.NoError(t, s.ReplaceBlacklist(ctx, nil))
	list, err = s.Blacklist(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestEventsArePrunedToMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.AppendEvent(ctx, jobs.LogEvent{
			Level:     jobs.LevelInfo,
			Component: "test",
			Message:   fmt.Sprintf("event %d", i),
			Details:   map[string]any{"n": i},
		})
		require.NoError(t, err)
	}

	removed, err := s.PruneEvents(ctx, 3)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	events, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "event 4", events[0].Message)
	require.EqualValues(t, 4, events[0].Details["n"])

	_, err = s.AppendEvent(ctx, jobs.LogEvent{Level: jobs.LevelError, Component: "test", Message: "boom"})
	require.NoError(t, err)

	errorsOnly, err := s.ListEvents(ctx, EventFilter{Level: jobs.LevelError})
	require.NoError(t, err)
	require.Len(t, errorsOnly, 1)

	cleared, err := s.ClearEvents(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, cleared)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	yesterday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	today := yesterday.Add(24 * time.Hour)

	s.now = func() time.Time { return yesterday }
	_, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "old", "Old")})
	require.NoError(t, err)

	s.now = func() time.Time { return today }
	stored, err := s.Ingest(ctx, []jobs.RawPosting{raw("indeed", "a", "A"), raw("indeed", "b", "B")})
	require.NoError(t, err)

	sent, err := s.BeginAttempt(ctx, stored[0], Attempt{Channel: "email"}, 2)
	require.NoError(t, err)
	require.NoError(t, s.MarkSent(ctx, sent.ID, "s", "b", today))

	failed, err := s.BeginAttempt(ctx, stored[1], Attempt{Channel: "email"}, 2)
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, failed.ID, "boom", false))

	dayStart := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	stats, err := s.Stats(ctx, dayStart)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalJobs)
	require.Equal(t, 2, stats.JobsToday)
	require.Equal(t, 2, stats.TotalApplications)
	require.Equal(t, 2, stats.ApplicationsToday)
	require.Equal(t, 50.0, stats.SuccessRate)
	require.Equal(t, 1, stats.ByStatus[jobs.StatusFailed])
}

func TestIngestWrapsDriverFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, DialectPostgres)

	mock.ExpectExec("INSERT INTO postings").WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("INSERT INTO postings").WillReturnResult(sqlmock.NewResult(0, 1))

	stored, err := s.Ingest(context.Background(), []jobs.RawPosting{
		raw("indeed", "1", "Broken"),
		raw("indeed", "2", "Fine"),
	})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "insert posting", perr.Op)
	require.Len(t, stored, 1, "a failed insert must not be reported as stored")
	require.Equal(t, "Fine", stored[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitQuotaWrapsDriverFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, DialectPostgres)

	mock.ExpectQuery("INSERT INTO daily_quota").
		WithArgs("2026-01-01").
		WillReturnError(errors.New("read-only transaction"))

	_, err = s.CommitQuota(context.Background(), "2026-01-01")

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "commit quota", perr.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
}
