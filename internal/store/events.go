package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spigell/jobhunter/internal/jobs"
)

// AppendEvent stores ev and returns its id.
func (s *Store) AppendEvent(ctx context.Context, ev jobs.LogEvent) (int64, error) {
	details := ""
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return 0, fmt.Errorf("encoding event details: %w", err)
		}
		details = string(raw)
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO events (ts, level, component, message, details)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		toMillis(ts), string(ev.Level), ev.Component, ev.Message, details,
	).Scan(&id)
	if err != nil {
		return 0, persistErr("append event", err)
	}
	return id, nil
}

// PruneEvents keeps the newest max events and drops the rest.
func (s *Store) PruneEvents(ctx context.Context, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id NOT IN
		(SELECT id FROM events ORDER BY id DESC LIMIT $1)`, max)
	if err != nil {
		return 0, persistErr("prune events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("prune events", err)
	}
	return n, nil
}

// EventFilter narrows ListEvents. An empty Level returns every level.
type EventFilter struct {
	Limit int
	Level jobs.Level
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]jobs.LogEvent, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}

	query := `SELECT id, ts, level, component, message, details FROM events`
	args := []any{}
	if f.Level != "" {
		query += ` WHERE level = $1 ORDER BY id DESC LIMIT $2`
		args = append(args, string(f.Level), f.Limit)
	} else {
		query += ` ORDER BY id DESC LIMIT $1`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list events", err)
	}
	defer rows.Close()

	out := []jobs.LogEvent{}
	for rows.Next() {
		var (
			ev      jobs.LogEvent
			ts      int64
			level   string
			details string
		)
		if err := rows.Scan(&ev.ID, &ts, &level, &ev.Component, &ev.Message, &details); err != nil {
			return nil, persistErr("list events", err)
		}
		ev.Timestamp = fromMillis(ts)
		ev.Level = jobs.Level(level)
		if details != "" {
			// Details are written by AppendEvent; a broken payload is dropped, not fatal.
			_ = json.Unmarshal([]byte(details), &ev.Details)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list events", err)
	}
	return out, nil
}

// ClearEvents truncates the event log.
func (s *Store) ClearEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, persistErr("clear events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("clear events", err)
	}
	return n, nil
}
