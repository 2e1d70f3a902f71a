package store

import (
	"context"
	"strings"
)

// ReplaceBlacklist swaps the stored blacklist for companies. Names are kept lower-cased.
func (s *Store) ReplaceBlacklist(ctx context.Context, companies []string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("replace blacklist", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM blacklist`); err != nil {
		return persistErr("replace blacklist", err)
	}

	for _, company := range companies {
		company = strings.ToLower(strings.TrimSpace(company))
		if company == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO blacklist (company) VALUES ($1) ON CONFLICT (company) DO NOTHING`, company); err != nil {
			return persistErr("replace blacklist", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return persistErr("replace blacklist", err)
	}
	return nil
}

func (s *Store) Blacklist(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT company FROM blacklist ORDER BY company`)
	if err != nil {
		return nil, persistErr("list blacklist", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var company string
		if err := rows.Scan(&company); err != nil {
			return nil, persistErr("list blacklist", err)
		}
		out = append(out, company)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list blacklist", err)
	}
	return out, nil
}
