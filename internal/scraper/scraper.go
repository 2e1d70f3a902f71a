// Package scraper defines the contract every job platform implements.
package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/jobhunter/internal/jobs"
)

// Scraper fetches postings from one platform. Retry and backoff, if any, are
// the implementation's concern.
type Scraper interface {
	Platform() string
	Fetch(ctx context.Context, criteria jobs.SearchCriteria) ([]jobs.RawPosting, error)
}

// ScrapeError is a failure isolated to one platform.
type ScrapeError struct {
	Platform string
	Reason   string
	Err      error
}

func (e *ScrapeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scrape %s: %s", e.Platform, e.Reason)
	}
	return fmt.Sprintf("scrape %s: %s: %v", e.Platform, e.Reason, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// Wrap turns err into a ScrapeError for platform. Nil stays nil and an
// existing ScrapeError is returned as is.
func Wrap(platform, reason string, err error) error {
	if err == nil {
		return nil
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return err
	}
	return &ScrapeError{Platform: platform, Reason: reason, Err: err}
}
