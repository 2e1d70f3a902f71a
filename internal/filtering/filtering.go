// Package filtering narrows the postings a dispatch cycle may apply to.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
)

// Filter represents a single eligibility step applied to candidate postings.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, candidates []jobs.Posting) ([]jobs.Posting, Step, error)
}

// BlacklistSource yields the blacklisted company names, lower-cased.
type BlacklistSource interface {
	Blacklist(ctx context.Context) ([]string, error)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Logger    *zap.Logger
	Blacklist BlacklistSource
	// Routable reports whether a posting has a recipient on its channel.
	Routable func(jobs.Posting) bool
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains configuration settings consumed by the filters.
type Config struct {
	MinScore float64
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type statusProvider interface {
	Status() Status
}

// Default returns the steps every dispatch cycle runs.
func Default() []Filter {
	return []Filter{NewMinScore(), NewBlacklist(), NewRecipient()}
}

// Run executes the supplied filters sequentially and returns the postings left.
// Input order is preserved.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, candidates []jobs.Posting) ([]jobs.Posting, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			deps.Logger.Debug("filter disabled", zap.String("name", step.Name()))
			continue
		}

		next, info, err := step.Apply(ctx, deps, candidates)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		deps.Logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		candidates = next
	}

	return candidates, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// keep returns the postings pred accepts and the ids of the dropped ones.
func keep(candidates []jobs.Posting, pred func(jobs.Posting) bool) ([]jobs.Posting, []string) {
	left := make([]jobs.Posting, 0, len(candidates))
	var dropped []string
	for _, p := range candidates {
		if pred(p) {
			left = append(left, p)
			continue
		}
		dropped = append(dropped, p.ID)
	}
	return left, dropped
}
