// Package adzuna fetches postings from the Adzuna public search API.
package adzuna

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/scraper"
	"github.com/spigell/jobhunter/internal/utils"
)

const (
	Platform    = "adzuna"
	baseURL     = "https://api.adzuna.com/v1/api/jobs"
	pageSize    = 50
	maxPages    = 3
	httpTimeout = 15 * time.Second
)

type Config struct {
	AppID   string `mapstructure:"app-id"`
	AppKey  string `mapstructure:"-"`
	Country string `mapstructure:"country"`
}

// Fetcher implements the scraper contract over the Adzuna API.
type Fetcher struct {
	cfg     Config
	baseURL string
	client  *http.Client
	backoff utils.Backoff
	logger  *zap.Logger
}

var _ scraper.Scraper = (*Fetcher)(nil)

func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.AppID == "" || cfg.AppKey == "" {
		return nil, errors.New("adzuna app id and key are required")
	}
	if cfg.Country == "" {
		cfg.Country = "gb"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: httpTimeout},
		backoff: utils.DefaultBackoff,
		logger:  logger,
	}, nil
}

func (f *Fetcher) Platform() string { return Platform }

type response struct {
	Results []result `json:"results"`
	Count   int      `json:"count"`
}

type result struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Company      named   `json:"company"`
	Location     named   `json:"location"`
	SalaryMin    float64 `json:"salary_min"`
	SalaryMax    float64 `json:"salary_max"`
	RedirectURL  string  `json:"redirect_url"`
	Created      string  `json:"created"`
	ContractTime string  `json:"contract_time"`
}

type named struct {
	DisplayName string `json:"display_name"`
}

// statusError carries the HTTP status so retries can tell throttling apart.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("adzuna returned %d: %s", e.code, e.body)
}

// Fetch walks result pages until a short page, the page cap or the limit.
func (f *Fetcher) Fetch(ctx context.Context, criteria jobs.SearchCriteria) ([]jobs.RawPosting, error) {
	var out []jobs.RawPosting

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, scraper.Wrap(Platform, "cancelled", err)
		}

		batch, err := utils.Retry(ctx, f.backoff, retryable, func(ctx context.Context) ([]result, error) {
			return f.fetchPage(ctx, criteria, page)
		})
		if err != nil {
			return nil, scraper.Wrap(Platform, fmt.Sprintf("page %d", page), err)
		}

		for _, r := range batch {
			out = append(out, r.toRaw())
		}

		if len(batch) < pageSize || (criteria.Limit > 0 && len(out) >= criteria.Limit) {
			break
		}
	}

	if criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}

	f.logger.Debug("adzuna fetch done", zap.Int("postings", len(out)))
	return out, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, criteria jobs.SearchCriteria, page int) ([]result, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", strings.TrimRight(f.baseURL, "/"), f.cfg.Country, page)

	params := url.Values{}
	params.Set("app_id", f.cfg.AppID)
	params.Set("app_key", f.cfg.AppKey)
	params.Set("results_per_page", strconv.Itoa(pageSize))
	params.Set("what", criteria.Query())
	if criteria.Location != "" {
		params.Set("where", criteria.Location)
	}
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: utils.TruncateForLog(string(body), 200)}
	}

	var decoded response
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	return decoded.Results, nil
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	return false
}

func (r result) toRaw() jobs.RawPosting {
	raw := jobs.RawPosting{
		Platform:     Platform,
		ExternalID:   r.ID,
		Title:        strings.TrimSpace(r.Title),
		Company:      r.Company.DisplayName,
		Location:     r.Location.DisplayName,
		Description:  r.Description,
		URL:          r.RedirectURL,
		ContactEmail: jobs.ContactEmail(r.Description),
		Remote:       strings.Contains(strings.ToLower(r.Title+" "+r.Location.DisplayName), "remote"),
	}

	if r.SalaryMin > 0 {
		v := r.SalaryMin
		raw.SalaryMin = &v
	}
	if r.SalaryMax > 0 {
		v := r.SalaryMax
		raw.SalaryMax = &v
	}

	if t, err := time.Parse(time.RFC3339, r.Created); err == nil {
		raw.PostedAt = &t
	}

	return raw
}
