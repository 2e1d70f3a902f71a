package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/spigell/jobhunter/internal/jobs"
)

const (
	maxPageSize     = 100
	defaultPageSize = 20
)

var postingColumns = []string{
	"id", "source_platform", "external_id", "title", "company", "location", "description",
	"salary", "salary_min", "salary_max", "contact_email", "raw_url", "remote",
	"posted_at", "discovered_at", "match_score",
}

func columns(prefix string) string {
	if prefix == "" {
		return strings.Join(postingColumns, ", ")
	}
	out := make([]string, len(postingColumns))
	for i, c := range postingColumns {
		out[i] = prefix + "." + c
	}
	return strings.Join(out, ", ")
}

// Ingest stores the records whose dedup key is not known yet and returns only
// the newly stored postings, in input order. A duplicate is a no-op, never an
// overwrite. Records that cannot be stored are reported in the aggregated error
// and are never part of the result.
func (s *Store) Ingest(ctx context.Context, raws []jobs.RawPosting) ([]jobs.Posting, error) {
	stored := make([]jobs.Posting, 0, len(raws))
	var errs error

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return stored, multierr.Append(errs, err)
		}

		posting, created, err := s.insertPosting(ctx, raw)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", raw.Platform, raw.ExternalID, err))
			continue
		}
		if created {
			stored = append(stored, posting)
		}
	}

	return stored, errs
}

func (s *Store) insertPosting(ctx context.Context, raw jobs.RawPosting) (jobs.Posting, bool, error) {
	platform := strings.ToLower(strings.TrimSpace(raw.Platform))
	if platform == "" {
		return jobs.Posting{}, false, errors.New("posting without platform")
	}

	key, err := jobs.DedupKey(raw)
	if err != nil {
		return jobs.Posting{}, false, err
	}

	p := jobs.Posting{
		ID:           s.newID(),
		Platform:     platform,
		ExternalID:   key,
		Title:        strings.TrimSpace(raw.Title),
		Company:      strings.TrimSpace(raw.Company),
		Location:     strings.TrimSpace(raw.Location),
		Description:  raw.Description,
		Salary:       strings.TrimSpace(raw.Salary),
		SalaryMin:    raw.SalaryMin,
		SalaryMax:    raw.SalaryMax,
		ContactEmail: strings.TrimSpace(raw.ContactEmail),
		URL:          strings.TrimSpace(raw.URL),
		Remote:       raw.Remote,
		PostedAt:     raw.PostedAt,
		DiscoveredAt: s.now(),
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO postings (`+columns("")+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (source_platform, external_id) DO NOTHING`,
		p.ID, p.Platform, p.ExternalID, p.Title, p.Company, p.Location, p.Description,
		p.Salary, nullFloat(p.SalaryMin), nullFloat(p.SalaryMax), p.ContactEmail, p.URL, boolInt(p.Remote),
		nullMillis(p.PostedAt), toMillis(p.DiscoveredAt), sql.NullFloat64{},
	)
	if err != nil {
		return jobs.Posting{}, false, persistErr("insert posting", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return jobs.Posting{}, false, persistErr("insert posting", err)
	}

	return p, n == 1, nil
}

// SetMatchScore attaches a score to a stored posting.
func (s *Store) SetMatchScore(ctx context.Context, id string, score float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE postings SET match_score = $1 WHERE id = $2`, score, id)
	if err != nil {
		return persistErr("set match score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("set match score", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetPosting(ctx context.Context, id string) (*jobs.Posting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns("")+` FROM postings WHERE id = $1`, id)
	p, err := scanPosting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get posting", err)
	}
	return &p, nil
}

// PostingFilter selects a page of postings for the dashboard.
type PostingFilter struct {
	Search   string
	Page     int
	PageSize int
}

type PostingPage struct {
	Items    []jobs.Posting `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"per_page"`
	Pages    int            `json:"pages"`
}

// QueryPostings returns postings ordered by discovery time, newest first.
func (s *Store) QueryPostings(ctx context.Context, f PostingFilter) (*PostingPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}

	where := ""
	args := []any{}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		where = ` WHERE LOWER(title) LIKE $1 OR LOWER(company) LIKE $1 OR LOWER(location) LIKE $1`
		args = append(args, "%"+search+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`+where, args...).Scan(&total); err != nil {
		return nil, persistErr("count postings", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM postings%s ORDER BY discovered_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		columns(""), where, n+1, n+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query postings", err)
	}
	items, err := collectPostings(rows)
	if err != nil {
		return nil, persistErr("query postings", err)
	}

	return &PostingPage{
		Items:    items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		Pages:    (total + f.PageSize - 1) / f.PageSize,
	}, nil
}

// EligiblePostings returns scored postings at or above minScore that either have
// no application yet or whose application failed retryably with attempts left,
// best score first.
func (s *Store) EligiblePostings(ctx context.Context, minScore float64, maxAttempts int) ([]jobs.Posting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns("p")+`
		FROM postings p
		LEFT JOIN applications a ON a.posting_id = p.id
		WHERE p.match_score IS NOT NULL AND p.match_score >= $1
		  AND (a.id IS NULL OR (a.status = $2 AND a.retryable = 1 AND a.attempts < $3))
		ORDER BY p.match_score DESC, p.discovered_at ASC, p.id ASC`,
		minScore, string(jobs.StatusFailed), maxAttempts,
	)
	if err != nil {
		return nil, persistErr("eligible postings", err)
	}
	out, err := collectPostings(rows)
	if err != nil {
		return nil, persistErr("eligible postings", err)
	}
	return out, nil
}

func collectPostings(rows *sql.Rows) ([]jobs.Posting, error) {
	defer rows.Close()

	out := []jobs.Posting{}
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosting(row scanner) (jobs.Posting, error) {
	var (
		p          jobs.Posting
		salaryMin  sql.NullFloat64
		salaryMax  sql.NullFloat64
		remote     int64
		postedAt   sql.NullInt64
		discovered int64
		score      sql.NullFloat64
	)

	err := row.Scan(&p.ID, &p.Platform, &p.ExternalID, &p.Title, &p.Company, &p.Location, &p.Description,
		&p.Salary, &salaryMin, &salaryMax, &p.ContactEmail, &p.URL, &remote,
		&postedAt, &discovered, &score)
	if err != nil {
		return jobs.Posting{}, err
	}

	p.SalaryMin = floatPtr(salaryMin)
	p.SalaryMax = floatPtr(salaryMax)
	p.Remote = remote != 0
	p.PostedAt = timePtr(postedAt)
	p.DiscoveredAt = fromMillis(discovered)
	p.MatchScore = floatPtr(score)

	return p, nil
}
