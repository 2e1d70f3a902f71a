package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/spigell/jobhunter/internal/jobs"
)

const applicationColumns = `a.id, a.posting_id, a.status, a.platform, a.channel, a.recipient, a.subject,
	a.cover_letter, a.attempts, a.retryable, a.last_error, a.sent_at, a.created_at, a.updated_at,
	p.title, p.company`

// Attempt describes where an application is about to be sent.
type Attempt struct {
	Channel   string
	Recipient string
}

// BeginAttempt moves a posting into a pending application. A posting without an
// application gets a new row with attempts = 1; a failed, retryable application
// with attempts left is moved back to pending with attempts incremented. Any
// other state yields ErrConflict, so a posting can never be pending or sent twice.
func (s *Store) BeginAttempt(ctx context.Context, p jobs.Posting, at Attempt, maxAttempts int) (*jobs.Application, error) {
	now := toMillis(s.now())
	id := s.newID()

	res, err := s.db.ExecContext(ctx, `INSERT INTO applications
		(id, posting_id, status, platform, channel, recipient, attempts, retryable, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, 0, $7, $7)
		ON CONFLICT (posting_id) DO NOTHING`,
		id, p.ID, string(jobs.StatusPending), p.Platform, at.Channel, at.Recipient, now,
	)
	if err != nil {
		return nil, persistErr("create application", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, persistErr("create application", err)
	} else if n == 1 {
		return s.GetApplication(ctx, id)
	}

	res, err = s.db.ExecContext(ctx, `UPDATE applications
		SET status = $1, attempts = attempts + 1, retryable = 0, channel = $2, recipient = $3, updated_at = $4
		WHERE posting_id = $5 AND status = $6 AND retryable = 1 AND attempts < $7`,
		string(jobs.StatusPending), at.Channel, at.Recipient, now, p.ID, string(jobs.StatusFailed), maxAttempts,
	)
	if err != nil {
		return nil, persistErr("retry application", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, persistErr("retry application", err)
	}
	if n == 0 {
		return nil, ErrConflict
	}

	return s.applicationByPosting(ctx, p.ID)
}

// MarkSent records a delivered application.
func (s *Store) MarkSent(ctx context.Context, id, subject, body string, sentAt time.Time) error {
	return s.execOne(ctx, "mark sent", `UPDATE applications
		SET status = $1, subject = $2, cover_letter = $3, sent_at = $4, last_error = '', retryable = 0, updated_at = $5
		WHERE id = $6 AND status = $7`,
		string(jobs.StatusSent), subject, body, toMillis(sentAt), toMillis(s.now()), id, string(jobs.StatusPending),
	)
}

// MarkFailed records a failed attempt. Only retryable failures are picked up
// again by EligiblePostings.
func (s *Store) MarkFailed(ctx context.Context, id, reason string, retryable bool) error {
	return s.execOne(ctx, "mark failed", `UPDATE applications
		SET status = $1, last_error = $2, retryable = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		string(jobs.StatusFailed), reason, boolInt(retryable), toMillis(s.now()), id, string(jobs.StatusPending),
	)
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr(op, err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// RecoverPending fails the applications left pending by an interrupted process
// so their postings become eligible again. Only rows untouched since before
// olderThan are taken: a younger pending row may belong to a send another
// process still has in flight.
func (s *Store) RecoverPending(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE applications
		SET status = $1, last_error = $2, retryable = 1, updated_at = $3
		WHERE status = $4 AND updated_at < $5`,
		string(jobs.StatusFailed), "interrupted before completion", toMillis(s.now()), string(jobs.StatusPending),
		toMillis(olderThan),
	)
	if err != nil {
		return 0, persistErr("recover pending", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("recover pending", err)
	}
	return n, nil
}

// UpdateApplicationStatus applies an external status update such as an
// interview mark. Only interview, rejected and accepted can be set this way and
// the move must follow the lifecycle.
func (s *Store) UpdateApplicationStatus(ctx context.Context, id string, to jobs.Status) (*jobs.Application, error) {
	if !to.IsManual() {
		return nil, jobs.ErrInvalidTransition
	}

	current, err := s.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if !jobs.CanTransition(current.Status, to) {
		return nil, jobs.ErrInvalidTransition
	}

	err = s.compareAndSetStatus(ctx, id, current.Status, to)
	if err != nil {
		return nil, err
	}

	return s.GetApplication(ctx, id)
}

func (s *Store) compareAndSetStatus(ctx context.Context, id string, from, to jobs.Status) error {
	return s.execOne(ctx, "update status", `UPDATE applications SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), toMillis(s.now()), id, string(from),
	)
}

func (s *Store) GetApplication(ctx context.Context, id string) (*jobs.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+`
		FROM applications a JOIN postings p ON p.id = a.posting_id
		WHERE a.id = $1`, id)
	return s.oneApplication(row, "get application")
}

func (s *Store) applicationByPosting(ctx context.Context, postingID string) (*jobs.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+`
		FROM applications a JOIN postings p ON p.id = a.posting_id
		WHERE a.posting_id = $1`, postingID)
	return s.oneApplication(row, "get application")
}

func (s *Store) oneApplication(row *sql.Row, op string) (*jobs.Application, error) {
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return &app, nil
}

// ListApplications returns applications newest first, optionally narrowed to one status.
func (s *Store) ListApplications(ctx context.Context, status jobs.Status, limit int) ([]jobs.Application, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + applicationColumns + ` FROM applications a JOIN postings p ON p.id = a.posting_id`
	args := []any{}
	if status != "" {
		query += ` WHERE a.status = $1 ORDER BY a.updated_at DESC, a.id DESC LIMIT $2`
		args = append(args, string(status), limit)
	} else {
		query += ` ORDER BY a.updated_at DESC, a.id DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list applications", err)
	}
	defer rows.Close()

	out := []jobs.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, persistErr("list applications", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list applications", err)
	}
	return out, nil
}

func scanApplication(row scanner) (jobs.Application, error) {
	var (
		app       jobs.Application
		status    string
		retryable int64
		sentAt    sql.NullInt64
		created   int64
		updated   int64
	)

	err := row.Scan(&app.ID, &app.PostingID, &status, &app.Platform, &app.Channel, &app.Recipient, &app.Subject,
		&app.CoverLetter, &app.Attempts, &retryable, &app.LastError, &sentAt, &created, &updated,
		&app.Title, &app.Company)
	if err != nil {
		return jobs.Application{}, err
	}

	app.Status = jobs.Status(strings.TrimSpace(status))
	app.Retryable = retryable != 0
	app.SentAt = timePtr(sentAt)
	app.CreatedAt = fromMillis(created)
	app.UpdatedAt = fromMillis(updated)

	return app, nil
}
