package filtering

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
)

type recipientFilter struct{}

// NewRecipient creates a filter that removes postings nobody can be reached for.
// It is impossible to apply to them.
func NewRecipient() Filter {
	return &recipientFilter{}
}

func (f *recipientFilter) Name() string { return "recipient" }

func (f *recipientFilter) Disable(string) {}

func (f *recipientFilter) IsEnabled() bool { return true }

func (f *recipientFilter) Validate(*Config) error { return nil }

func (f *recipientFilter) Apply(_ context.Context, deps Deps, candidates []jobs.Posting) ([]jobs.Posting, Step, error) {
	initial := len(candidates)
	if deps.Routable == nil {
		return candidates, Step{Initial: initial, Left: initial}, nil
	}

	left, dropped := keep(candidates, deps.Routable)
	if len(dropped) > 0 {
		deps.Logger.Info("excluding postings without a recipient",
			zap.Strings("excluded_postings", dropped),
			zap.Int("postings_left", len(left)),
		)
	}

	return left, Step{Initial: initial, Dropped: len(dropped), Left: len(left)}, nil
}
