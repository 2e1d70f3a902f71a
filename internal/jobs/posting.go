package jobs

import (
	"errors"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrNoDedupKey is returned for records that carry neither an external id nor a usable URL.
var ErrNoDedupKey = errors.New("posting has neither external id nor url")

// RawPosting is a record as yielded by a platform scraper, before dedup.
type RawPosting struct {
	Platform     string
	ExternalID   string
	Title        string
	Company      string
	Location     string
	Description  string
	Salary       string
	SalaryMin    *float64
	SalaryMax    *float64
	ContactEmail string
	URL          string
	Remote       bool
	PostedAt     *time.Time
}

// Posting is a stored job listing. Everything except MatchScore is immutable once stored.
type Posting struct {
	ID           string     `json:"id"`
	Platform     string     `json:"source_platform"`
	ExternalID   string     `json:"external_id"`
	Title        string     `json:"title"`
	Company      string     `json:"company"`
	Location     string     `json:"location"`
	Description  string     `json:"description"`
	Salary       string     `json:"salary,omitempty"`
	SalaryMin    *float64   `json:"salary_min,omitempty"`
	SalaryMax    *float64   `json:"salary_max,omitempty"`
	ContactEmail string     `json:"contact_email,omitempty"`
	URL          string     `json:"raw_url"`
	Remote       bool       `json:"remote"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	MatchScore   *float64   `json:"match_score"`
}

// Score returns the match score or zero when the posting was not scored yet.
func (p Posting) Score() float64 {
	if p.MatchScore == nil {
		return 0
	}
	return *p.MatchScore
}

// DedupKey returns the platform-local identity of a raw record: the external id,
// or the normalized URL when the platform does not expose one.
func DedupKey(raw RawPosting) (string, error) {
	if id := strings.TrimSpace(raw.ExternalID); id != "" {
		return id, nil
	}

	if normalized := NormalizeURL(raw.URL); normalized != "" {
		return normalized, nil
	}

	return "", ErrNoDedupKey
}

var trackingParams = []string{"trk", "refid", "trackingid", "ref", "src"}

// NormalizeURL canonicalizes a posting URL so the same listing reached through
// different tracking links yields the same key. Returns "" for unusable input.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		for _, p := range trackingParams {
			if lower == p {
				q.Del(key)
				break
			}
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// SearchCriteria is handed to every scraper on each search cycle.
type SearchCriteria struct {
	Keywords []string
	Location string
	Remote   bool
	Limit    int
}

// Query joins the keywords the way most job boards accept free text.
func (c SearchCriteria) Query() string {
	return strings.Join(c.Keywords, " ")
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// ContactEmail returns the first address found in text that parses as a
// mailbox, or "".
func ContactEmail(text string) string {
	for _, candidate := range emailPattern.FindAllString(text, 5) {
		candidate = strings.TrimRight(candidate, ".")
		if addr, err := mail.ParseAddress(candidate); err == nil {
			return strings.ToLower(addr.Address)
		}
	}
	return ""
}
