package headhunter

import (
	"fmt"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/spigell/jobhunter/internal/jobs"
)

const publishedLayout = "2006-01-02T15:04:05-0700"

type Vacancies struct {
	Items []*Vacancy
}

type Named struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Salary struct {
	From     *float64 `json:"from,omitempty"`
	To       *float64 `json:"to,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Gross    bool     `json:"gross,omitempty"`
}

type Vacancy struct {
	ID           string  `json:"id,omitempty"`
	Name         string  `json:"name,omitempty"`
	Area         Named   `json:"area,omitempty"`
	HasTest      bool    `json:"has_test,omitempty"`
	Salary       *Salary `json:"salary,omitempty"`
	Experience   Named   `json:"experience,omitempty"`
	Schedule     Named   `json:"schedule,omitempty"`
	Employment   Named   `json:"employment,omitempty"`
	AlternateURL string  `json:"alternate_url,omitempty"`
	Employer     struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"employer,omitempty"`
	Description string  `json:"description,omitempty"`
	KeySkills   []Named `json:"key_skills,omitempty"`
	Archived    bool    `json:"archived,omitempty"`
	Snippet     struct {
		Requirement    string `json:"requirement,omitempty"`
		Responsibility string `json:"responsibility,omitempty"`
	} `json:"snippet,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

func (v *Vacancies) Len() int {
	return len(v.Items)
}

// ToRaw converts the vacancy into a scraper record. HTML in the description
// and snippet is converted to markdown.
func (va *Vacancy) ToRaw() jobs.RawPosting {
	raw := jobs.RawPosting{
		Platform:   Platform,
		ExternalID: va.ID,
		Title:      strings.TrimSpace(va.Name),
		Company:    strings.TrimSpace(va.Employer.Name),
		Location:   va.Area.Name,
		URL:        va.AlternateURL,
		Remote:     va.Schedule.ID == "remote",
	}

	description := va.Description
	if strings.TrimSpace(description) == "" {
		description = strings.TrimSpace(va.Snippet.Requirement + "\n\n" + va.Snippet.Responsibility)
	}
	raw.Description = toMarkdown(description)

	if len(va.KeySkills) > 0 {
		names := make([]string, 0, len(va.KeySkills))
		for _, s := range va.KeySkills {
			names = append(names, s.Name)
		}
		raw.Description = strings.TrimSpace(raw.Description + "\n\nKey skills: " + strings.Join(names, ", "))
	}

	raw.ContactEmail = jobs.ContactEmail(raw.Description)

	if s := va.Salary; s != nil {
		raw.SalaryMin = s.From
		raw.SalaryMax = s.To
		raw.Salary = s.String()
	}

	if t, err := time.Parse(publishedLayout, va.PublishedAt); err == nil {
		raw.PostedAt = &t
	}

	return raw
}

func (s *Salary) String() string {
	var parts []string
	if s.From != nil {
		parts = append(parts, fmt.Sprintf("%.0f", *s.From))
	}
	if s.To != nil {
		parts = append(parts, fmt.Sprintf("%.0f", *s.To))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(parts, "-") + " " + s.Currency)
}

func toMarkdown(html string) string {
	html = strings.TrimSpace(html)
	if html == "" {
		return ""
	}
	// search snippets mark matches with a custom tag
	html = strings.NewReplacer("<highlighttext>", "", "</highlighttext>", "").Replace(html)

	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return html
	}
	return strings.TrimSpace(md)
}
