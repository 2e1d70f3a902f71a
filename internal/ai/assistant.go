// Package ai holds the provider-neutral contract for AI-written application letters.
package ai

import (
	"context"

	"github.com/spigell/jobhunter/internal/jobs"
)

// LetterRequest is the input for a cover letter. Draft is the template-rendered
// body the assistant may use as a starting point.
type LetterRequest struct {
	Posting jobs.Posting
	Profile jobs.Profile
	Draft   string
}

type Letter struct {
	Body string
	Raw  string
}

// Writer writes a personalized cover letter body.
type Writer interface {
	WriteLetter(ctx context.Context, req LetterRequest) (*Letter, error)
}
