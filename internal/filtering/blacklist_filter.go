package filtering

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
)

type blacklistFilter struct {
	companies []string
}

// NewBlacklist creates a filter that removes postings from blacklisted companies.
// A company matches when the posting's company name contains a blacklisted
// name, ignoring case.
func NewBlacklist() Filter {
	return &blacklistFilter{}
}

func (f *blacklistFilter) Name() string { return "blacklist" }

func (f *blacklistFilter) Disable(string) {}

func (f *blacklistFilter) IsEnabled() bool { return true }

func (f *blacklistFilter) Validate(*Config) error { return nil }

func (f *blacklistFilter) Apply(ctx context.Context, deps Deps, candidates []jobs.Posting) ([]jobs.Posting, Step, error) {
	initial := len(candidates)
	if deps.Blacklist == nil {
		return candidates, Step{Initial: initial, Left: initial}, nil
	}

	companies, err := deps.Blacklist.Blacklist(ctx)
	if err != nil {
		return nil, Step{}, fmt.Errorf("loading blacklist: %w", err)
	}
	f.companies = companies

	if len(companies) == 0 {
		return candidates, Step{Initial: initial, Left: initial}, nil
	}

	left, dropped := keep(candidates, func(p jobs.Posting) bool {
		return !blacklisted(p.Company, companies)
	})

	if len(dropped) > 0 {
		deps.Logger.Info("excluding postings by blacklisted companies",
			zap.Strings("blacklist", companies),
			zap.Strings("excluded_postings", dropped),
			zap.Int("postings_left", len(left)),
		)
	}

	return left, Step{Initial: initial, Dropped: len(dropped), Left: len(left)}, nil
}

func blacklisted(company string, companies []string) bool {
	company = strings.ToLower(strings.TrimSpace(company))
	if company == "" {
		return false
	}
	for _, c := range companies {
		if c != "" && strings.Contains(company, c) {
			return true
		}
	}
	return false
}

func (f *blacklistFilter) Status() Status {
	details := map[string]string{}
	if len(f.companies) > 0 {
		details["companies"] = strings.Join(f.companies, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
