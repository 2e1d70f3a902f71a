package headhunter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spigell/jobhunter/internal/render"
	"github.com/spigell/jobhunter/internal/sender"
)

const (
	apiNegotiataionPath = "/negotiations"
	// hh.ru limits the cover letter of a negotiation.
	maxMessageRunes = 10000
)

func (c *Client) postNegotiation(ctx context.Context, resume, vacancy, message string) error {
	apiURLMineNegotations := fmt.Sprintf("%s%s", c.APIURL, apiNegotiataionPath)

	data := map[string]string{
		"resume_id":  resume,
		"vacancy_id": vacancy,
		"message":    message,
	}

	return c.postFormData(ctx, apiURLMineNegotations, data)
}

// Negotiator applies to vacancies through the negotiations API. The recipient
// is the vacancy id.
type Negotiator struct {
	client *Client
	resume string
	now    func() time.Time
}

var _ sender.Channel = (*Negotiator)(nil)

func NewNegotiator(client *Client, resumeID string) (*Negotiator, error) {
	if strings.TrimSpace(resumeID) == "" {
		return nil, errors.New("resume id is required")
	}
	return &Negotiator{client: client, resume: resumeID, now: time.Now}, nil
}

func (n *Negotiator) Send(ctx context.Context, content render.Content, recipient string) (sender.Ack, error) {
	message := content.Body
	if r := []rune(message); len(r) > maxMessageRunes {
		message = string(r[:maxMessageRunes])
	}

	if err := n.client.Apply(ctx, n.resume, recipient, message); err != nil {
		return sender.Ack{}, classify(err)
	}

	return sender.Ack{Channel: Platform, ID: recipient, At: n.now()}, nil
}

func classify(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError {
			return sender.Transient(Platform, err)
		}
		return sender.Permanent(Platform, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return sender.Transient(Platform, err)
	}

	return sender.Permanent(Platform, err)
}
