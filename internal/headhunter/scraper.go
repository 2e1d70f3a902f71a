package headhunter

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/scraper"
)

// SearchConfig narrows hh.ru searches beyond the shared criteria.
type SearchConfig struct {
	Areas       []int    `mapstructure:"areas"`
	Schedules   []string `mapstructure:"schedules"`
	Experience  string   `mapstructure:"experience"`
	SearchField string   `mapstructure:"search-field"`
	Period      uint     `mapstructure:"period"`
	SkipTests   bool     `mapstructure:"skip-with-test"`
}

// Scraper adapts the client to the scraper contract.
type Scraper struct {
	client *Client
	cfg    SearchConfig
	logger *zap.Logger
}

var _ scraper.Scraper = (*Scraper)(nil)

func NewScraper(client *Client, cfg SearchConfig) *Scraper {
	return &Scraper{client: client, cfg: cfg, logger: client.logger}
}

func (s *Scraper) Platform() string { return Platform }

func (s *Scraper) Fetch(ctx context.Context, criteria jobs.SearchCriteria) ([]jobs.RawPosting, error) {
	params := &SearchParams{
		Text:        criteria.Query(),
		Areas:       s.cfg.Areas,
		Schedules:   s.cfg.Schedules,
		Experience:  s.cfg.Experience,
		SearchField: s.cfg.SearchField,
		Period:      s.cfg.Period,
		OrderBy:     "publication_time",
	}
	if criteria.Remote && len(params.Schedules) == 0 {
		params.Schedules = []string{"remote"}
	}

	vacancies, err := s.client.Search(ctx, params, criteria.Limit)
	if err != nil {
		return nil, scraper.Wrap(Platform, "search vacancies", err)
	}

	raws := make([]jobs.RawPosting, 0, vacancies.Len())
	var skipped []string
	for _, v := range vacancies.Items {
		if v == nil || v.Archived {
			continue
		}
		// vacancies with a test cannot be applied to through the API
		if s.cfg.SkipTests && v.HasTest {
			skipped = append(skipped, v.ID)
			continue
		}
		raws = append(raws, v.ToRaw())
	}

	if len(skipped) > 0 {
		s.logger.Debug("skipping vacancies with tests", zap.String("ids", strings.Join(skipped, ",")))
	}

	return raws, nil
}
