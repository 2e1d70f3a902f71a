// Package notify tells the user what the engine did through the configured channels.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/render"
	"github.com/spigell/jobhunter/internal/sender"
)

const maxListed = 10

// Sender is the outbound contract notifications go through.
type Sender interface {
	Send(ctx context.Context, channel string, content render.Content, recipient string) (sender.Ack, error)
}

// Target is one place notifications are delivered to.
type Target struct {
	Channel   string `mapstructure:"channel"`
	Recipient string `mapstructure:"recipient"`
}

type Notifier struct {
	sender  Sender
	targets []Target
}

// New builds a notifier. Without targets every call is a no-op.
func New(s Sender, targets []Target) *Notifier {
	return &Notifier{sender: s, targets: targets}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil && len(n.targets) > 0
}

// NewPostings summarizes postings found by a search cycle, best match first.
func (n *Notifier) NewPostings(ctx context.Context, postings []jobs.Posting) error {
	if !n.Enabled() || len(postings) == 0 {
		return nil
	}

	sorted := append([]jobs.Posting(nil), postings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score() > sorted[j].Score() })

	var b strings.Builder
	for i, p := range sorted {
		if i == maxListed {
			fmt.Fprintf(&b, "...and %d more\n", len(sorted)-maxListed)
			break
		}
		fmt.Fprintf(&b, "%d. %s", i+1, p.Title)
		if p.Company != "" {
			fmt.Fprintf(&b, " @ %s", p.Company)
		}
		if p.MatchScore != nil {
			fmt.Fprintf(&b, " (%.0f%%)", *p.MatchScore*100)
		}
		if p.URL != "" {
			fmt.Fprintf(&b, "\n   %s", p.URL)
		}
		b.WriteString("\n")
	}

	return n.broadcast(ctx, render.Content{
		Kind:    "new_postings",
		Subject: fmt.Sprintf("%d new job postings", len(postings)),
		Body:    strings.TrimSpace(b.String()),
	})
}

// DailyReport sends the aggregate stats.
func (n *Notifier) DailyReport(ctx context.Context, stats jobs.Stats) error {
	if !n.Enabled() {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Postings found today: %d (total %d)\n", stats.JobsToday, stats.TotalJobs)
	fmt.Fprintf(&b, "Applications today: %d (total %d)\n", stats.ApplicationsToday, stats.TotalApplications)
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", stats.SuccessRate)
	for _, status := range jobs.Statuses {
		if c := stats.ByStatus[status]; c > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", status, c)
		}
	}

	return n.broadcast(ctx, render.Content{
		Kind:    "daily_report",
		Subject: "Daily job hunting report",
		Body:    strings.TrimSpace(b.String()),
	})
}

// CycleFailed reports a cycle that ended with an error.
func (n *Notifier) CycleFailed(ctx context.Context, cycle string, cause error) error {
	if !n.Enabled() || cause == nil {
		return nil
	}

	return n.broadcast(ctx, render.Content{
		Kind:    "cycle_failed",
		Subject: fmt.Sprintf("%s cycle failed", cycle),
		Body:    cause.Error(),
	})
}

func (n *Notifier) broadcast(ctx context.Context, content render.Content) error {
	var errs error
	for _, t := range n.targets {
		if _, err := n.sender.Send(ctx, t.Channel, content, t.Recipient); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", t.Channel, err))
		}
	}
	return errs
}
