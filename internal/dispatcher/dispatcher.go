// Package dispatcher turns eligible postings into sent applications, one at a
// time, under the daily quota.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/jobhunter/internal/filtering"
	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/quota"
	"github.com/spigell/jobhunter/internal/render"
	"github.com/spigell/jobhunter/internal/sender"
	"github.com/spigell/jobhunter/internal/store"
)

const (
	component = "dispatcher"

	ChannelEmail = "email"

	defaultRenderTimeout = time.Minute
	defaultSendTimeout   = 30 * time.Second
)

// Store is the persistence the dispatcher needs.
type Store interface {
	EligiblePostings(ctx context.Context, minScore float64, maxAttempts int) ([]jobs.Posting, error)
	Blacklist(ctx context.Context) ([]string, error)
	BeginAttempt(ctx context.Context, p jobs.Posting, at store.Attempt, maxAttempts int) (*jobs.Application, error)
	MarkSent(ctx context.Context, id, subject, body string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, retryable bool) error
}

// Quota hands out send slots.
type Quota interface {
	Reserve(ctx context.Context) error
	Release(ctx context.Context) error
	Commit(ctx context.Context) error
}

type Sender interface {
	Send(ctx context.Context, channel string, content render.Content, recipient string) (sender.Ack, error)
}

// Recorder is the event log.
type Recorder interface {
	Record(ctx context.Context, level jobs.Level, component, message string, details map[string]any)
}

type Options struct {
	MinScore      float64
	MaxAttempts   int
	SendInterval  time.Duration
	RenderTimeout time.Duration
	SendTimeout   time.Duration
	Profile       jobs.Profile
	Rules         []render.KindRule
	// Channels maps a platform to the channel its applications go through.
	Channels       map[string]string
	DefaultChannel string
}

// Report summarizes one dispatch cycle.
type Report struct {
	Considered     int  `json:"considered"`
	Filtered       int  `json:"filtered"`
	Sent           int  `json:"sent"`
	Failed         int  `json:"failed"`
	Skipped        int  `json:"skipped"`
	QuotaExhausted bool `json:"quota_exhausted"`
}

type Dispatcher struct {
	store    Store
	quota    Quota
	renderer render.Renderer
	sender   Sender
	events   Recorder
	logger   *zap.Logger
	opts     Options
	limiter  *rate.Limiter
	now      func() time.Time
}

func New(st Store, q Quota, r render.Renderer, s Sender, ev Recorder, logger *zap.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = defaultRenderTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.DefaultChannel == "" {
		opts.DefaultChannel = ChannelEmail
	}

	limit := rate.Inf
	if opts.SendInterval > 0 {
		limit = rate.Every(opts.SendInterval)
	}

	return &Dispatcher{
		store:    st,
		quota:    q,
		renderer: r,
		sender:   s,
		events:   ev,
		logger:   logger,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

// Route is where an application for a posting goes.
type Route struct {
	Channel   string
	Recipient string
}

// RouteFor picks the channel for the posting's platform. Email goes to the
// contact address found in the posting; every other channel applies on the
// platform itself, addressed by the external id.
func (d *Dispatcher) RouteFor(p jobs.Posting) Route {
	channel, ok := d.opts.Channels[p.Platform]
	if !ok || channel == "" {
		channel = d.opts.DefaultChannel
	}
	if channel == ChannelEmail {
		return Route{Channel: channel, Recipient: p.ContactEmail}
	}
	return Route{Channel: channel, Recipient: p.ExternalID}
}

// Candidates returns the postings a cycle would apply to, best score first.
func (d *Dispatcher) Candidates(ctx context.Context) ([]jobs.Posting, int, error) {
	eligible, err := d.store.EligiblePostings(ctx, d.opts.MinScore, d.opts.MaxAttempts)
	if err != nil {
		return nil, 0, fmt.Errorf("selecting eligible postings: %w", err)
	}

	deps := filtering.Deps{
		Logger:    d.logger,
		Blacklist: d.store,
		Routable:  func(p jobs.Posting) bool { return d.RouteFor(p).Recipient != "" },
	}
	left, err := filtering.Run(ctx, &filtering.Config{MinScore: d.opts.MinScore}, deps, filtering.Default(), eligible)
	if err != nil {
		return nil, 0, fmt.Errorf("filtering postings: %w", err)
	}

	return left, len(eligible), nil
}

// Filters describes the eligibility steps Candidates runs.
func (d *Dispatcher) Filters() ([]filtering.Status, error) {
	steps := filtering.Default()
	cfg := &filtering.Config{MinScore: d.opts.MinScore}
	for _, step := range steps {
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("validating filter %s: %w", step.Name(), err)
		}
	}
	return filtering.Describe(steps), nil
}

// AttemptBudget is the longest a single application can stay pending: render,
// send and the write that records the outcome.
func AttemptBudget(opts Options) time.Duration {
	renderTimeout, sendTimeout := opts.RenderTimeout, opts.SendTimeout
	if renderTimeout <= 0 {
		renderTimeout = defaultRenderTimeout
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return renderTimeout + sendTimeout + defaultSendTimeout
}

// Run selects candidates and applies to them.
func (d *Dispatcher) Run(ctx context.Context) (Report, error) {
	candidates, considered, err := d.Candidates(ctx)
	if err != nil {
		d.events.Record(ctx, jobs.LevelError, component, "dispatch cycle aborted", map[string]any{"error": err.Error()})
		return Report{}, err
	}

	report, err := d.Dispatch(ctx, candidates)
	report.Considered = considered
	report.Filtered = considered - len(candidates)
	return report, err
}

// Dispatch applies to postings strictly in the given order and one at a time.
// It stops early when the quota is exhausted or ctx is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, postings []jobs.Posting) (Report, error) {
	report := Report{Considered: len(postings)}

	cancelled := func(err error) (Report, error) {
		d.events.Record(ctx, jobs.LevelWarning, component, "dispatch cycle cancelled", map[string]any{
			"sent": report.Sent, "failed": report.Failed,
		})
		return report, err
	}

	for _, p := range postings {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		outcome, err := d.apply(ctx, p)
		switch outcome {
		case outcomeCancelled:
			return cancelled(err)
		case outcomeSent:
			report.Sent++
		case outcomeFailed:
			report.Failed++
		case outcomeSkipped:
			report.Skipped++
		case outcomeQuota:
			report.QuotaExhausted = true
			d.events.Record(ctx, jobs.LevelInfo, component, "daily quota reached", map[string]any{"sent": report.Sent})
			return report, nil
		}
		if err != nil {
			return report, err
		}
	}

	level := jobs.LevelInfo
	if report.Sent > 0 {
		level = jobs.LevelSuccess
	}
	d.events.Record(ctx, level, component, "dispatch cycle finished", map[string]any{
		"sent": report.Sent, "failed": report.Failed, "skipped": report.Skipped,
	})

	return report, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeQuota
	outcomeCancelled
)

// apply runs one posting through pacing, reserve, begin, render, send and
// record. A returned error aborts the cycle; per-posting failures are only
// reported.
func (d *Dispatcher) apply(ctx context.Context, p jobs.Posting) (outcome, error) {
	details := map[string]any{
		"posting_id": p.ID,
		"title":      p.Title,
		"company":    p.Company,
		"platform":   p.Platform,
	}

	// keep the pace before anything is claimed for the posting, so a cycle
	// cancelled while waiting leaves no trace
	if err := d.limiter.Wait(ctx); err != nil {
		return outcomeCancelled, err
	}

	if err := d.quota.Reserve(ctx); err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			return outcomeQuota, nil
		}
		details["error"] = err.Error()
		d.events.Record(ctx, jobs.LevelError, component, "quota unavailable", details)
		return outcomeSkipped, err
	}

	route := d.RouteFor(p)
	app, err := d.store.BeginAttempt(ctx, p, store.Attempt{Channel: route.Channel, Recipient: route.Recipient}, d.opts.MaxAttempts)
	if err != nil {
		d.release(ctx)
		if errors.Is(err, store.ErrConflict) {
			d.logger.Info("posting is already being applied to", zap.String("posting_id", p.ID))
			return outcomeSkipped, nil
		}
		details["error"] = err.Error()
		d.events.Record(ctx, jobs.LevelError, component, "could not create application", details)
		return outcomeSkipped, nil
	}
	details["application_id"] = app.ID
	details["attempt"] = app.Attempts

	kind := render.SelectKind(d.opts.Rules, p)
	renderCtx, cancel := context.WithTimeout(ctx, d.opts.RenderTimeout)
	content, err := d.renderer.Render(renderCtx, kind, p, d.opts.Profile)
	cancel()
	if err != nil {
		var renderErr *render.RenderError
		if !errors.As(err, &renderErr) {
			err = &render.RenderError{Kind: kind, Err: err}
		}
		d.release(ctx)
		d.fail(ctx, app, err, true, details)
		d.events.Record(ctx, jobs.LevelError, component, "rendering application failed", details)
		return outcomeFailed, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	ack, err := d.sender.Send(sendCtx, route.Channel, content, route.Recipient)
	cancel()
	if err != nil {
		retryable := sender.IsTransient(err)
		d.release(ctx)
		d.fail(ctx, app, err, retryable, details)
		details["retryable"] = retryable
		d.events.Record(ctx, jobs.LevelError, component, "sending application failed", details)
		return outcomeFailed, nil
	}

	sentAt := ack.At
	if sentAt.IsZero() {
		sentAt = d.now()
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSendTimeout)
	defer cancel()

	// the send happened, so the slot is spent even if recording it fails
	if err := d.quota.Commit(persistCtx); err != nil {
		d.logger.Error("persisting quota", zap.Error(err))
	}

	if err := d.store.MarkSent(persistCtx, app.ID, content.Subject, content.Body, sentAt); err != nil {
		details["error"] = err.Error()
		d.events.Record(ctx, jobs.LevelError, component, "application sent but not recorded", details)
		return outcomeSent, nil
	}

	details["channel"] = route.Channel
	d.events.Record(ctx, jobs.LevelSuccess, component, "application sent", details)
	return outcomeSent, nil
}

// release hands the reserved slot back. It survives cancellation of ctx like
// fail does.
func (d *Dispatcher) release(ctx context.Context) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSendTimeout)
	defer cancel()

	if err := d.quota.Release(persistCtx); err != nil {
		d.logger.Error("releasing quota", zap.Error(err))
	}
}

// fail records a failed attempt. It survives cancellation of ctx so an
// interrupted cycle never leaves an application pending.
func (d *Dispatcher) fail(ctx context.Context, app *jobs.Application, cause error, retryable bool, details map[string]any) {
	details["error"] = cause.Error()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSendTimeout)
	defer cancel()

	if err := d.store.MarkFailed(persistCtx, app.ID, cause.Error(), retryable); err != nil {
		d.logger.Error("recording failed application",
			zap.String("application_id", app.ID),
			zap.Error(err),
		)
	}
}
