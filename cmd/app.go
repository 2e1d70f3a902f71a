package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/adzuna"
	"github.com/spigell/jobhunter/internal/ai/gemini"
	"github.com/spigell/jobhunter/internal/config"
	"github.com/spigell/jobhunter/internal/dispatcher"
	"github.com/spigell/jobhunter/internal/events"
	"github.com/spigell/jobhunter/internal/headhunter"
	"github.com/spigell/jobhunter/internal/lock"
	"github.com/spigell/jobhunter/internal/notify"
	"github.com/spigell/jobhunter/internal/quota"
	"github.com/spigell/jobhunter/internal/render"
	"github.com/spigell/jobhunter/internal/scheduler"
	"github.com/spigell/jobhunter/internal/scoring"
	"github.com/spigell/jobhunter/internal/scraper"
	"github.com/spigell/jobhunter/internal/search"
	"github.com/spigell/jobhunter/internal/secrets"
	"github.com/spigell/jobhunter/internal/sender"
	"github.com/spigell/jobhunter/internal/store"
)

// engine is every component wired together for the long-running commands.
type engine struct {
	cfg        *config.Config
	logger     *zap.Logger
	loc        *time.Location
	store      *store.Store
	events     *events.Sink
	quota      *quota.Tracker
	dispatcher *dispatcher.Dispatcher
	search     *search.Cycle
	notifier   *notify.Notifier
	scheduler  *scheduler.Scheduler

	// lease is how long a pending application or quota reservation may
	// belong to a live process.
	lease   time.Duration
	closers []func() error
}

// openStore connects and migrates. Commands that only read state stop here.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dsn, err := secrets.Load(secrets.Source{Name: "storage dsn", Value: cfg.Storage.DSN, File: cfg.Storage.DSNFile})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Options{
		Driver:       cfg.Storage.Driver,
		DSN:          dsn,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	e := &engine{cfg: cfg, logger: logger, loc: loc, store: st, closers: []func() error{st.Close}}
	if err := e.wire(ctx); err != nil {
		_ = e.close()
		return nil, err
	}
	return e, nil
}

// recoverInterrupted fails the applications a dead process left pending. Rows
// younger than the lease are left alone: they may be sends in flight in
// another process.
func (e *engine) recoverInterrupted(ctx context.Context) error {
	recovered, err := e.store.RecoverPending(ctx, time.Now().Add(-e.lease))
	if err != nil {
		return fmt.Errorf("recovering pending applications: %w", err)
	}
	if recovered > 0 {
		e.events.Warning(ctx, "engine", "pending applications from an interrupted run marked failed", map[string]any{
			"count": recovered,
			"lease": e.lease.String(),
		})
	}
	return nil
}

func (e *engine) wire(ctx context.Context) error {
	cfg := e.cfg

	e.events = events.New(e.store, e.logger, cfg.Events.MaxEntries)

	if err := e.store.ReplaceBlacklist(ctx, cfg.Blacklist); err != nil {
		return fmt.Errorf("syncing blacklist: %w", err)
	}

	mux := sender.NewMux()
	scrapers, err := e.platforms(ctx, mux)
	if err != nil {
		return err
	}

	for _, channel := range e.routedChannels() {
		if !mux.Has(channel) {
			e.events.Warning(ctx, "engine", "applications are routed to a channel that is not configured", map[string]any{"channel": channel})
		}
	}

	renderer, err := e.renderer(ctx)
	if err != nil {
		return err
	}

	e.notifier = notify.New(mux, cfg.Notify)

	rules := cfg.Apply.Templates
	if len(rules) == 0 {
		rules = render.DefaultRules()
	}

	opts := dispatcher.Options{
		MinScore:       cfg.Apply.MinMatchScore,
		MaxAttempts:    cfg.Apply.MaxAttempts,
		SendInterval:   cfg.Apply.SendInterval,
		RenderTimeout:  cfg.Apply.RenderTimeout,
		SendTimeout:    cfg.Apply.SendTimeout,
		Profile:        cfg.Profile,
		Rules:          rules,
		Channels:       cfg.Apply.Channels,
		DefaultChannel: cfg.Apply.DefaultChannel,
	}

	grace := cfg.Scheduler.GracePeriod
	if grace <= 0 {
		grace = scheduler.DefaultGracePeriod
	}
	e.lease = dispatcher.AttemptBudget(opts) + grace

	e.quota = quota.New(e.store, cfg.Apply.MaxPerDay, e.loc).WithLease(e.lease)
	e.dispatcher = dispatcher.New(e.store, e.quota, renderer, mux, e.events, e.logger, opts)

	scorer := scoring.New(cfg.Scoring.Weights, cfg.Scoring.Synonyms)
	e.search = search.New(e.store, scrapers, scorer, e.notifier, e.events, e.logger,
		cfg.Apply.MinMatchScore, search.Options{
			Criteria:     cfg.Search.Criteria(),
			Profile:      cfg.Profile,
			Concurrency:  cfg.Search.Concurrency,
			FetchTimeout: cfg.Search.FetchTimeout,
		})

	locker, err := e.locker(ctx)
	if err != nil {
		return err
	}

	applyInterval := time.Duration(0)
	if cfg.Apply.Auto {
		applyInterval = cfg.Scheduler.ApplyInterval
	}

	e.scheduler = scheduler.New(e.cycles(), locker, e.events, e.logger, scheduler.Options{
		SearchTimes:   cfg.Scheduler.SearchTimes,
		ApplyInterval: applyInterval,
		DailyReport:   cfg.Scheduler.DailyReport,
		GracePeriod:   cfg.Scheduler.GracePeriod,
		Location:      e.loc,
	})

	e.logger.Info("engine ready",
		zap.Int("platforms", len(scrapers)),
		zap.Strings("channels", mux.Names()),
		zap.Any("weights", scorer.Weights()),
		zap.Bool("auto_apply", cfg.Apply.Auto),
	)
	return nil
}

// platforms builds the scrapers and registers the send channels. A platform
// that cannot be set up is skipped with an error event; the engine only fails
// on broken configuration.
func (e *engine) platforms(ctx context.Context, mux *sender.Mux) ([]scraper.Scraper, error) {
	cfg := e.cfg
	var scrapers []scraper.Scraper

	if cfg.Email.Enabled {
		password, err := secrets.LoadOptional(secrets.Source{Name: "smtp password", Value: cfg.Email.Password, File: cfg.Email.PasswordFile})
		if err != nil {
			return nil, err
		}
		smtpCfg := cfg.Email.SMTP
		smtpCfg.Password = password

		smtp, err := sender.NewSMTP(smtpCfg)
		if err != nil {
			return nil, fmt.Errorf("email: %w", err)
		}
		mux.Register(config.ChannelEmail, smtp)
	}

	if cfg.Telegram.Enabled {
		token, err := secrets.Load(secrets.Source{Name: "telegram token", Value: cfg.Telegram.Token, File: cfg.Telegram.TokenFile})
		if err != nil {
			return nil, err
		}
		tg, err := sender.NewTelegram(token, nil)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		mux.Register(config.ChannelTelegram, tg)
	}

	if cfg.Headhunter.Enabled {
		token, err := secrets.Load(secrets.Source{Name: "headhunter token", Value: cfg.Headhunter.Token, File: cfg.Headhunter.TokenFile})
		if err != nil {
			return nil, err
		}

		hh := headhunter.New(e.logger, token)
		if cfg.Headhunter.UserAgent != "" {
			hh.UserAgent = cfg.Headhunter.UserAgent
		}
		scrapers = append(scrapers, headhunter.NewScraper(hh, cfg.Headhunter.Search))

		// searching works without a resume, applying does not
		resumeID, err := hh.ResolveResume(ctx, cfg.Headhunter.Resume)
		if err != nil {
			e.events.Error(ctx, "engine", "headhunter applications disabled", map[string]any{"error": err.Error()})
		} else {
			negotiator, err := headhunter.NewNegotiator(hh, resumeID)
			if err != nil {
				return nil, err
			}
			mux.Register(config.ChannelHeadhunter, negotiator)
		}
	}

	if cfg.Adzuna.Enabled {
		key, err := secrets.Load(secrets.Source{Name: "adzuna app key", Value: cfg.Adzuna.AppKey, File: cfg.Adzuna.AppKeyFile})
		if err != nil {
			return nil, err
		}
		fetcher, err := adzuna.New(adzuna.Config{AppID: cfg.Adzuna.AppID, AppKey: key, Country: cfg.Adzuna.Country}, e.logger)
		if err != nil {
			return nil, fmt.Errorf("adzuna: %w", err)
		}
		scrapers = append(scrapers, fetcher)
	}

	return scrapers, nil
}

// routedChannels lists every channel an application can be sent through.
func (e *engine) routedChannels() []string {
	def := e.cfg.Apply.DefaultChannel
	if def == "" {
		def = config.ChannelEmail
	}
	seen := map[string]bool{def: true}
	channels := []string{def}
	for _, ch := range e.cfg.Apply.Channels {
		if !seen[ch] {
			seen[ch] = true
			channels = append(channels, ch)
		}
	}
	return channels
}

func (e *engine) renderer(ctx context.Context) (render.Renderer, error) {
	cfg := e.cfg

	templates, err := render.NewTemplateRenderer(cfg.Apply.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	e.logger.Debug("templates loaded", zap.Strings("kinds", templates.Kinds()))

	if !cfg.AI.Enabled {
		return templates, nil
	}

	apiKey, err := secrets.Load(secrets.Source{Name: "gemini api key", Value: cfg.AI.Gemini.APIKey, File: cfg.AI.Gemini.APIKeyFile})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.AI.Gemini.Model, e.logger)
	if err != nil {
		return nil, err
	}

	e.logger.Info("cover letters are written by ai", zap.String("model", generator.Model()))

	writer := gemini.NewWriter(generator, e.logger, cfg.AI.Gemini.MaxLogLength)
	return render.NewAssisted(templates, writer, e.logger), nil
}

func (e *engine) locker(ctx context.Context) (lock.Locker, error) {
	url, err := secrets.LoadOptional(secrets.Source{Name: "redis url", Value: e.cfg.Redis.URL, File: e.cfg.Redis.URLFile})
	if err != nil {
		return nil, err
	}
	if url == "" {
		return lock.NewLocal(), nil
	}

	client, err := lock.NewRedisClient(ctx, url)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, client.Close)
	return lock.NewRedis(client, e.cfg.Redis.LockTTL), nil
}

func (e *engine) cycles() map[string]scheduler.Cycle {
	return map[string]scheduler.Cycle{
		scheduler.CycleSearch: e.reported(scheduler.CycleSearch, func(ctx context.Context) error {
			summary, err := e.search.Run(ctx)
			e.logger.Info("search cycle", zap.String("summary", summary.Describe()))
			return err
		}),
		scheduler.CycleApply: e.reported(scheduler.CycleApply, func(ctx context.Context) error {
			report, err := e.dispatcher.Run(ctx)
			e.logger.Info("apply cycle",
				zap.Int("sent", report.Sent),
				zap.Int("failed", report.Failed),
				zap.Bool("quota_exhausted", report.QuotaExhausted),
			)
			return err
		}),
		scheduler.CycleReport: e.reported(scheduler.CycleReport, func(ctx context.Context) error {
			stats, err := e.store.Stats(ctx, dayStart(time.Now(), e.loc))
			if err != nil {
				return err
			}
			return e.notifier.DailyReport(ctx, *stats)
		}),
	}
}

// reported tells the user about a cycle that failed for a reason other than
// being stopped.
func (e *engine) reported(name string, cycle scheduler.Cycle) scheduler.Cycle {
	return func(ctx context.Context) error {
		err := cycle(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}

		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if nerr := e.notifier.CycleFailed(notifyCtx, name, err); nerr != nil {
			e.events.Warning(ctx, "engine", "failure notification not delivered", map[string]any{"error": nerr.Error()})
		}
		return err
	}
}

func (e *engine) close() error {
	var errs error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, e.closers[i]())
	}
	return errs
}

func dayStart(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}
