package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
)

type minScoreFilter struct {
	disabled bool
	reason   string
	min      float64
}

// NewMinScore creates a filter that drops unscored postings and those below the threshold.
func NewMinScore() Filter {
	return &minScoreFilter{}
}

func (f *minScoreFilter) Name() string { return "min_score" }

func (f *minScoreFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *minScoreFilter) IsEnabled() bool { return !f.disabled }

func (f *minScoreFilter) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return fmt.Errorf("minimum score %.2f is outside [0,1]", cfg.MinScore)
	}
	f.min = cfg.MinScore
	return nil
}

func (f *minScoreFilter) Apply(_ context.Context, deps Deps, candidates []jobs.Posting) ([]jobs.Posting, Step, error) {
	left, dropped := keep(candidates, func(p jobs.Posting) bool {
		return p.MatchScore != nil && *p.MatchScore >= f.min
	})

	if len(dropped) > 0 {
		deps.Logger.Info("excluding postings below minimum score",
			zap.Float64("min_score", f.min),
			zap.Strings("excluded_postings", dropped),
		)
	}

	return left, Step{Initial: len(candidates), Dropped: len(dropped), Left: len(left)}, nil
}

func (f *minScoreFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"min_score": fmt.Sprintf("%.2f", f.min)},
	}
}
