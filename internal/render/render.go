// Package render turns a posting and the candidate profile into application content.
package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/jobhunter/internal/jobs"
)

const DefaultKind = "default"

// Content is a rendered application ready to be sent.
type Content struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Renderer produces application content for a template kind.
type Renderer interface {
	Render(ctx context.Context, kind string, posting jobs.Posting, profile jobs.Profile) (Content, error)
}

// RenderError reports content that could not be produced.
type RenderError struct {
	Kind string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %q: %v", e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Data is what templates are executed with.
type Data struct {
	Posting jobs.Posting
	Profile jobs.Profile
	Date    string
}

func newData(posting jobs.Posting, profile jobs.Profile, now time.Time) Data {
	return Data{Posting: posting, Profile: profile, Date: now.Format("2006-01-02")}
}

// KindRule selects Kind when the posting title or description mentions any keyword.
type KindRule struct {
	Kind     string   `mapstructure:"kind"`
	Keywords []string `mapstructure:"keywords"`
}

// DefaultRules picks the python template for postings mentioning python.
func DefaultRules() []KindRule {
	return []KindRule{{Kind: "python", Keywords: []string{"python"}}}
}

// SelectKind returns the first matching rule's kind or DefaultKind.
func SelectKind(rules []KindRule, posting jobs.Posting) string {
	text := strings.ToLower(posting.Title + " " + posting.Description)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				return rule.Kind
			}
		}
	}
	return DefaultKind
}
