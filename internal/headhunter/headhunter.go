// Package headhunter talks to the hh.ru API: it searches vacancies for the
// search cycle and posts negotiations for the apply cycle.
package headhunter

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	Platform    = "headhunter"
	apiURL      = "https://api.hh.ru"
	mineResumID = "mine"
	userAgent   = "spigell/jobhunter (spigelly@gmail.com)"
	// Max value for search per page.
	perPage = 100
)

type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}

func (c *Client) Search(ctx context.Context, params *SearchParams, limit int) (*Vacancies, error) {
	return c.search(ctx, params, limit)
}

func (c *Client) GetMineResumes(ctx context.Context) (*Resumes, error) {
	return c.getResumes(ctx, mineResumID)
}

// Apply posts a negotiation for vacancy with the given resume and cover letter.
func (c *Client) Apply(ctx context.Context, resume, vacancy, message string) error {
	return c.postNegotiation(ctx, resume, vacancy, message)
}
