// Package search runs the search cycle: fetch from every platform, ingest the
// new postings, score them and tell the user what was found.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/logger"
	"github.com/spigell/jobhunter/internal/scraper"
)

const (
	component = "search"

	defaultConcurrency  = 4
	defaultFetchTimeout = 2 * time.Minute
)

// ErrAllPlatformsFailed is returned when not a single platform could be fetched.
var ErrAllPlatformsFailed = errors.New("every platform failed")

type Store interface {
	Ingest(ctx context.Context, raws []jobs.RawPosting) ([]jobs.Posting, error)
	SetMatchScore(ctx context.Context, id string, score float64) error
}

type Scorer interface {
	Score(p jobs.Posting, profile jobs.Profile) float64
}

type Notifier interface {
	NewPostings(ctx context.Context, postings []jobs.Posting) error
}

type Recorder interface {
	Record(ctx context.Context, level jobs.Level, component, message string, details map[string]any)
}

type Options struct {
	Criteria     jobs.SearchCriteria
	Profile      jobs.Profile
	Concurrency  int
	FetchTimeout time.Duration
}

// Summary is what one search cycle did.
type Summary struct {
	Platforms int      `json:"platforms"`
	Failed    []string `json:"failed_platforms"`
	Fetched   int      `json:"fetched"`
	New       int      `json:"new"`
	Scored    int      `json:"scored"`
	Matches   int      `json:"matches"`
}

type Cycle struct {
	store    Store
	scrapers []scraper.Scraper
	scorer   Scorer
	notifier Notifier
	events   Recorder
	logger   *zap.Logger
	opts     Options
	minScore float64
}

// New builds a search cycle. notifier may be nil. Postings scoring at least
// minScore are counted as matches in the summary.
func New(st Store, scrapers []scraper.Scraper, scorer Scorer, notifier Notifier, ev Recorder, log *zap.Logger, minScore float64, opts Options) *Cycle {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}

	return &Cycle{
		store:    st,
		scrapers: scrapers,
		scorer:   scorer,
		notifier: notifier,
		events:   ev,
		logger:   logger.ForComponent(log, component),
		opts:     opts,
		minScore: minScore,
	}
}

// Run fetches every platform concurrently. A failing platform is recorded and
// skipped; the cycle only fails when all of them do or ctx is cancelled.
func (c *Cycle) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Platforms: len(c.scrapers)}
	if len(c.scrapers) == 0 {
		c.events.Record(ctx, jobs.LevelWarning, component, "no platforms configured", nil)
		return summary, nil
	}

	c.events.Record(ctx, jobs.LevelInfo, component, "search cycle started", map[string]any{
		"platforms": len(c.scrapers),
		"query":     c.opts.Criteria.Query(),
	})

	var (
		mu    sync.Mutex
		found []jobs.Posting
	)

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for _, s := range c.scrapers {
		g.Go(func() error {
			res := c.platform(ctx, s)

			mu.Lock()
			defer mu.Unlock()
			if res.err != nil {
				summary.Failed = append(summary.Failed, s.Platform())
			}
			summary.Fetched += res.fetched
			summary.New += len(res.stored)
			summary.Scored += res.scored
			for _, p := range res.stored {
				if p.MatchScore != nil && *p.MatchScore >= c.minScore {
					summary.Matches++
				}
			}
			found = append(found, res.stored...)
			return nil
		})
	}
	_ = g.Wait()

	details := map[string]any{
		"fetched": summary.Fetched,
		"new":     summary.New,
		"matches": summary.Matches,
		"failed":  summary.Failed,
	}

	if err := ctx.Err(); err != nil {
		c.events.Record(ctx, jobs.LevelWarning, component, "search cycle cancelled", details)
		return summary, err
	}

	if len(summary.Failed) == len(c.scrapers) {
		c.events.Record(ctx, jobs.LevelError, component, "search cycle failed", details)
		return summary, ErrAllPlatformsFailed
	}

	level := jobs.LevelInfo
	if summary.New > 0 {
		level = jobs.LevelSuccess
	}
	c.events.Record(ctx, level, component, "search cycle finished", details)

	if c.notifier != nil && len(found) > 0 {
		if err := c.notifier.NewPostings(ctx, found); err != nil {
			c.events.Record(ctx, jobs.LevelWarning, component, "new postings notification failed", map[string]any{"error": err.Error()})
		}
	}

	return summary, nil
}

type platformResult struct {
	fetched int
	stored  []jobs.Posting
	scored  int
	err     error
}

func (c *Cycle) platform(ctx context.Context, s scraper.Scraper) platformResult {
	name := s.Platform()
	log := c.logger.With(zap.String(logger.FieldPlatform, name))

	if err := ctx.Err(); err != nil {
		return platformResult{err: err}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	raws, err := s.Fetch(fetchCtx, c.opts.Criteria)
	cancel()
	if err != nil {
		err = scraper.Wrap(name, "fetch", err)
		c.events.Record(ctx, jobs.LevelError, component, "platform fetch failed", map[string]any{
			"platform": name,
			"error":    err.Error(),
		})
		return platformResult{err: err}
	}

	log.Info("fetched postings", zap.Int("count", len(raws)))

	stored, err := c.store.Ingest(ctx, raws)
	if err != nil {
		// stored still holds every posting that made it in
		c.events.Record(ctx, jobs.LevelWarning, component, "some postings were not stored", map[string]any{
			"platform": name,
			"stored":   len(stored),
			"error":    err.Error(),
		})
	}

	res := platformResult{fetched: len(raws)}
	for _, p := range stored {
		if ctx.Err() != nil {
			break
		}

		score := c.scorer.Score(p, c.opts.Profile)
		if err := c.store.SetMatchScore(ctx, p.ID, score); err != nil {
			c.events.Record(ctx, jobs.LevelError, component, "saving match score failed", map[string]any{
				"platform":   name,
				"posting_id": p.ID,
				"error":      err.Error(),
			})
		} else {
			res.scored++
		}

		p.MatchScore = &score
		res.stored = append(res.stored, p)
	}

	log.Debug("platform done", zap.Int("new", len(res.stored)), zap.Int("scored", res.scored))
	return res
}

// Describe is a one-line summary for the CLI.
func (s Summary) Describe() string {
	return fmt.Sprintf("%d fetched, %d new, %d matches, %d/%d platforms failed",
		s.Fetched, s.New, s.Matches, len(s.Failed), s.Platforms)
}
