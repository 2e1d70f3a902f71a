package store

import (
	"context"
	"math"
	"time"

	"github.com/spigell/jobhunter/internal/jobs"
)

// Stats aggregates dashboard counters. dayStart marks the beginning of "today".
// The success rate is the share of applications that reached sent or a later
// status, in percent with one decimal.
func (s *Store) Stats(ctx context.Context, dayStart time.Time) (*jobs.Stats, error) {
	stats := &jobs.Stats{ByStatus: map[jobs.Status]int{}}
	since := toMillis(dayStart)

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`).Scan(&stats.TotalJobs); err != nil {
		return nil, persistErr("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings WHERE discovered_at >= $1`, since).Scan(&stats.JobsToday); err != nil {
		return nil, persistErr("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications WHERE created_at >= $1`, since).Scan(&stats.ApplicationsToday); err != nil {
		return nil, persistErr("stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, persistErr("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, persistErr("stats", err)
		}
		stats.ByStatus[jobs.Status(status)] = count
		stats.TotalApplications += count
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("stats", err)
	}

	if stats.TotalApplications > 0 {
		delivered := stats.ByStatus[jobs.StatusSent] + stats.ByStatus[jobs.StatusInterview] +
			stats.ByStatus[jobs.StatusRejected] + stats.ByStatus[jobs.StatusAccepted]
		rate := float64(delivered) / float64(stats.TotalApplications) * 100
		stats.SuccessRate = math.Round(rate*10) / 10
	}

	return stats, nil
}
