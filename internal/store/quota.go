package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// The daily_quota row is shared by every process using the database. A send
// slot is claimed by bumping reserved_count under the sent+reserved < max
// guard, so two processes can never both take the last slot. Reservations
// carry a lease (reserved_until) so a crashed process cannot hold slots for
// the rest of the day.

// LoadQuota returns the committed sends and the live reservations for day
// (YYYY-MM-DD). Reservations whose lease ended before at are not counted.
func (s *Store) LoadQuota(ctx context.Context, day string, at time.Time) (sent, reserved int, err error) {
	var until int64
	err = s.db.QueryRowContext(ctx, `SELECT sent_count, reserved_count, reserved_until FROM daily_quota WHERE day = $1`, day).
		Scan(&sent, &reserved, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, persistErr("load quota", err)
	}
	if until < toMillis(at) {
		reserved = 0
	}
	return sent, reserved, nil
}

// ReserveQuota claims one slot for day when fewer than max are sent or
// reserved. The reservation lease is extended to until. It reports false when
// the day is exhausted.
func (s *Store) ReserveQuota(ctx context.Context, day string, max int, at, until time.Time) (bool, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO daily_quota (day, sent_count, reserved_count, reserved_until)
		VALUES ($1, 0, 0, 0) ON CONFLICT (day) DO NOTHING`, day); err != nil {
		return false, persistErr("reserve quota", err)
	}

	// every holder's lease has ended, so whatever is still reserved was abandoned
	if _, err := s.db.ExecContext(ctx, `UPDATE daily_quota SET reserved_count = 0
		WHERE day = $1 AND reserved_count > 0 AND reserved_until < $2`, day, toMillis(at)); err != nil {
		return false, persistErr("reserve quota", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE daily_quota
		SET reserved_count = reserved_count + 1,
			reserved_until = CASE WHEN reserved_until > $2 THEN reserved_until ELSE $2 END
		WHERE day = $1 AND sent_count + reserved_count < $3`, day, toMillis(until), max)
	if err != nil {
		return false, persistErr("reserve quota", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("reserve quota", err)
	}
	return n == 1, nil
}

// CommitQuota turns one reservation of day into a send and returns the new
// sent count. It counts the send even when no reservation is left.
func (s *Store) CommitQuota(ctx context.Context, day string) (int, error) {
	var sent int
	err := s.db.QueryRowContext(ctx, `INSERT INTO daily_quota (day, sent_count, reserved_count, reserved_until)
		VALUES ($1, 1, 0, 0)
		ON CONFLICT (day) DO UPDATE SET
			sent_count = daily_quota.sent_count + 1,
			reserved_count = CASE WHEN daily_quota.reserved_count > 0 THEN daily_quota.reserved_count - 1 ELSE 0 END
		RETURNING sent_count`, day).Scan(&sent)
	if err != nil {
		return 0, persistErr("commit quota", err)
	}
	return sent, nil
}

// ReleaseQuota gives back one reservation of day.
func (s *Store) ReleaseQuota(ctx context.Context, day string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE daily_quota
		SET reserved_count = CASE WHEN reserved_count > 0 THEN reserved_count - 1 ELSE 0 END
		WHERE day = $1`, day)
	return persistErr("release quota", err)
}
