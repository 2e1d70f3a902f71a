package render

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/ai"
	"github.com/spigell/jobhunter/internal/jobs"
)

// Assisted renders with a base renderer and lets an AI writer replace the body.
// Writer failures keep the base body; they never fail the render.
type Assisted struct {
	base   Renderer
	writer ai.Writer
	logger *zap.Logger
}

func NewAssisted(base Renderer, writer ai.Writer, logger *zap.Logger) *Assisted {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assisted{base: base, writer: writer, logger: logger}
}

func (a *Assisted) Render(ctx context.Context, kind string, posting jobs.Posting, profile jobs.Profile) (Content, error) {
	content, err := a.base.Render(ctx, kind, posting, profile)
	if err != nil {
		return Content{}, err
	}

	letter, err := a.writer.WriteLetter(ctx, ai.LetterRequest{Posting: posting, Profile: profile, Draft: content.Body})
	if err != nil {
		a.logger.Warn("ai letter failed, using template body",
			zap.String("posting_id", posting.ID),
			zap.String("kind", content.Kind),
			zap.Error(err),
		)
		return content, nil
	}

	content.Body = letter.Body
	return content, nil
}
