package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTransition is returned when a status change breaks the lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusInterview Status = "interview"
	StatusRejected  Status = "rejected"
	StatusAccepted  Status = "accepted"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusSent, StatusFailed, StatusInterview, StatusRejected, StatusAccepted}

var transitions = map[Status][]Status{
	StatusPending:   {StatusSent, StatusFailed},
	StatusFailed:    {StatusPending},
	StatusSent:      {StatusInterview, StatusRejected},
	StatusInterview: {StatusAccepted, StatusRejected},
}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// Next returns the statuses reachable from s.
func (s Status) Next() []Status {
	return transitions[s]
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsManual reports whether s may be set by an external status update.
// pending, sent and failed belong to the dispatcher.
func (s Status) IsManual() bool {
	return s == StatusInterview || s == StatusRejected || s == StatusAccepted
}

// Application is one outbound application tied to exactly one Posting.
type Application struct {
	ID          string     `json:"id"`
	PostingID   string     `json:"posting_id"`
	Status      Status     `json:"status"`
	Platform    string     `json:"platform"`
	Channel     string     `json:"channel"`
	Recipient   string     `json:"recipient"`
	Subject     string     `json:"subject,omitempty"`
	CoverLetter string     `json:"cover_letter_content,omitempty"`
	Attempts    int        `json:"attempts"`
	Retryable   bool       `json:"retryable"`
	LastError   string     `json:"last_error,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Filled by listing queries for display.
	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`
}

// Stats is the aggregate view served to the dashboard.
type Stats struct {
	TotalJobs         int            `json:"total_jobs"`
	JobsToday         int            `json:"jobs_today"`
	TotalApplications int            `json:"total_applications"`
	ApplicationsToday int            `json:"applications_today"`
	SuccessRate       float64        `json:"success_rate"`
	ByStatus          map[Status]int `json:"by_status"`
}
