package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/ai"
	"github.com/spigell/jobhunter/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Writer asks Gemini for a cover letter body.
type Writer struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

//go:embed cover_letter.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	// postings can carry whole pages of markup-derived text
	maxDescriptionRunes = 6000
)

func NewWriter(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Writer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Writer{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

func (w *Writer) WriteLetter(ctx context.Context, req ai.LetterRequest) (*ai.Letter, error) {
	profileJSON, err := json.MarshalIndent(req.Profile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	posting := map[string]any{
		"title":       req.Posting.Title,
		"company":     req.Posting.Company,
		"location":    req.Posting.Location,
		"salary":      req.Posting.Salary,
		"description": utils.TruncateForLog(req.Posting.Description, maxDescriptionRunes),
	}
	postingJSON, err := json.MarshalIndent(posting, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal posting: %w", err)
	}

	prompt := buildPrompt(string(profileJSON), string(postingJSON), req.Draft)

	w.logger.Debug("gemini generate content request",
		zap.String("posting_id", req.Posting.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, w.maxLogLen)),
	)

	raw, err := w.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	w.logger.Debug("gemini generate content response",
		zap.String("posting_id", req.Posting.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, w.maxLogLen)),
	)

	body := stripFences(raw)
	if body == "" {
		return nil, errors.New("gemini returned an empty letter")
	}

	return &ai.Letter{Body: body, Raw: raw}, nil
}

func buildPrompt(profileJSON, postingJSON, draft string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Candidate:\n{{PROFILE_JSON}}\n\nJob posting:\n{{POSTING_JSON}}\n\nDraft:\n{{DRAFT}}\n\nCover letter:"
	}
	prompt := strings.ReplaceAll(template, "{{PROFILE_JSON}}", profileJSON)
	prompt = strings.ReplaceAll(prompt, "{{POSTING_JSON}}", postingJSON)
	prompt = strings.ReplaceAll(prompt, "{{DRAFT}}", strings.TrimSpace(draft))
	return prompt
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw, "\n"); idx != -1 {
			raw = raw[idx+1:]
		} else {
			raw = strings.TrimPrefix(raw, "```")
		}
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}
