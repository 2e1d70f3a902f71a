// Package config holds the engine configuration as read by viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/spigell/jobhunter/internal/headhunter"
	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/notify"
	"github.com/spigell/jobhunter/internal/render"
	"github.com/spigell/jobhunter/internal/scheduler"
	"github.com/spigell/jobhunter/internal/scoring"
	"github.com/spigell/jobhunter/internal/sender"
)

const EnvPrefix = "JOBHUNTER"

// Channel names usable under apply.channels and notify.
const (
	ChannelEmail      = sender.ChannelEmail
	ChannelTelegram   = sender.ChannelTelegram
	ChannelHeadhunter = headhunter.Platform
)

type Config struct {
	Timezone   string          `mapstructure:"timezone" json:"timezone"`
	Profile    jobs.Profile    `mapstructure:"profile" json:"profile"`
	Search     Search          `mapstructure:"search" json:"search"`
	Scoring    Scoring         `mapstructure:"scoring" json:"scoring"`
	Apply      Apply           `mapstructure:"apply" json:"apply"`
	Blacklist  []string        `mapstructure:"blacklist" json:"blacklist"`
	Scheduler  Scheduler       `mapstructure:"scheduler" json:"scheduler"`
	Storage    Storage         `mapstructure:"storage" json:"-"`
	Redis      Redis           `mapstructure:"redis" json:"-"`
	Events     Events          `mapstructure:"events" json:"events"`
	Server     Server          `mapstructure:"server" json:"-"`
	Notify     []notify.Target `mapstructure:"notify" json:"notify"`
	Email      Email           `mapstructure:"email" json:"-"`
	Telegram   Telegram        `mapstructure:"telegram" json:"-"`
	Headhunter Headhunter      `mapstructure:"headhunter" json:"-"`
	Adzuna     Adzuna          `mapstructure:"adzuna" json:"-"`
	AI         AI              `mapstructure:"ai" json:"-"`
}

type Search struct {
	Keywords     []string      `mapstructure:"keywords" json:"keywords"`
	Location     string        `mapstructure:"location" json:"location"`
	Remote       bool          `mapstructure:"remote" json:"remote"`
	Limit        int           `mapstructure:"limit" json:"limit"`
	Interval     time.Duration `mapstructure:"interval" json:"interval"`
	Concurrency  int           `mapstructure:"concurrency" json:"concurrency"`
	FetchTimeout time.Duration `mapstructure:"fetch-timeout" json:"fetch_timeout"`
}

func (s Search) Criteria() jobs.SearchCriteria {
	return jobs.SearchCriteria{Keywords: s.Keywords, Location: s.Location, Remote: s.Remote, Limit: s.Limit}
}

type Scoring struct {
	Weights scoring.Weights `mapstructure:"weights" json:"weights"`
	// Synonyms replace the built-in table when set.
	Synonyms map[string][]string `mapstructure:"synonyms" json:"synonyms,omitempty"`
}

type Apply struct {
	// Auto lets the scheduler run the apply cycle on its own.
	Auto          bool              `mapstructure:"auto" json:"auto"`
	MinMatchScore float64           `mapstructure:"min-match-score" json:"min_match_score"`
	MaxPerDay     int               `mapstructure:"max-per-day" json:"max_per_day"`
	MaxAttempts   int               `mapstructure:"max-attempts" json:"max_attempts"`
	SendInterval  time.Duration     `mapstructure:"send-interval" json:"send_interval"`
	RenderTimeout time.Duration     `mapstructure:"render-timeout" json:"render_timeout"`
	SendTimeout   time.Duration     `mapstructure:"send-timeout" json:"send_timeout"`
	TemplatesDir  string            `mapstructure:"templates-dir" json:"templates_dir,omitempty"`
	Templates     []render.KindRule `mapstructure:"templates" json:"templates"`
	// Channels maps a platform to the channel applications go through.
	Channels       map[string]string `mapstructure:"channels" json:"channels"`
	DefaultChannel string            `mapstructure:"default-channel" json:"default_channel"`
}

type Scheduler struct {
	AutoStart     bool          `mapstructure:"auto-start" json:"auto_start"`
	SearchTimes   []string      `mapstructure:"search-times" json:"search_times"`
	ApplyInterval time.Duration `mapstructure:"apply-interval" json:"apply_interval"`
	DailyReport   string        `mapstructure:"daily-report" json:"daily_report"`
	GracePeriod   time.Duration `mapstructure:"grace-period" json:"grace_period"`
}

type Storage struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	DSNFile      string `mapstructure:"dsn-file"`
	MaxOpenConns int    `mapstructure:"max-open-conns"`
}

type Redis struct {
	URL     string        `mapstructure:"url"`
	URLFile string        `mapstructure:"url-file"`
	LockTTL time.Duration `mapstructure:"lock-ttl"`
}

type Events struct {
	MaxEntries int `mapstructure:"max-entries" json:"max_entries"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Email struct {
	Enabled      bool              `mapstructure:"enabled"`
	SMTP         sender.SMTPConfig `mapstructure:"smtp"`
	Password     string            `mapstructure:"password"`
	PasswordFile string            `mapstructure:"password-file"`
}

type Telegram struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
}

type Headhunter struct {
	Enabled   bool                    `mapstructure:"enabled"`
	Token     string                  `mapstructure:"token"`
	TokenFile string                  `mapstructure:"token-file"`
	UserAgent string                  `mapstructure:"user-agent"`
	Resume    string                  `mapstructure:"resume"`
	Search    headhunter.SearchConfig `mapstructure:"search"`
}

type Adzuna struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppID      string `mapstructure:"app-id"`
	AppKey     string `mapstructure:"app-key"`
	AppKeyFile string `mapstructure:"app-key-file"`
	Country    string `mapstructure:"country"`
}

type AI struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
	Gemini   Gemini `mapstructure:"gemini"`
}

type Gemini struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	w := scoring.DefaultWeights()

	v.SetDefault("search.interval", "4h")
	v.SetDefault("search.limit", 50)
	v.SetDefault("search.concurrency", 4)
	v.SetDefault("search.fetch-timeout", "2m")

	v.SetDefault("scoring.weights.skills", w.Skills)
	v.SetDefault("scoring.weights.title", w.Title)
	v.SetDefault("scoring.weights.location", w.Location)
	v.SetDefault("scoring.weights.salary", w.Salary)

	v.SetDefault("apply.min-match-score", 0.7)
	v.SetDefault("apply.max-per-day", 10)
	v.SetDefault("apply.max-attempts", 2)
	v.SetDefault("apply.send-interval", "30s")
	v.SetDefault("apply.render-timeout", "1m")
	v.SetDefault("apply.send-timeout", "30s")
	v.SetDefault("apply.default-channel", ChannelEmail)
	v.SetDefault("apply.channels", map[string]string{headhunter.Platform: ChannelHeadhunter})

	v.SetDefault("scheduler.search-times", []string{"09:00", "14:00", "18:00"})
	v.SetDefault("scheduler.apply-interval", "1h")
	v.SetDefault("scheduler.daily-report", "23:00")
	v.SetDefault("scheduler.grace-period", "30s")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "jobhunter.db")
	v.SetDefault("redis.lock-ttl", "30m")
	v.SetDefault("events.max-entries", 1000)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.timeout", "30s")
	v.SetDefault("adzuna.country", "gb")
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.gemini.max-log-length", 200)
}

// BindEnv makes every key settable as JOBHUNTER_<KEY> with dots and dashes
// turned into underscores, and keeps the token file variables hh-responder
// users already have.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("headhunter.token-file", EnvPrefix+"_HEADHUNTER_TOKEN_FILE", "HH_TOKEN_FILE"); err != nil {
		return err
	}
	return v.BindEnv("ai.gemini.api-key-file", EnvPrefix+"_AI_GEMINI_API_KEY_FILE", "GEMINI_API_KEY_FILE")
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every impossible value at once.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if _, err := c.Location(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if c.Search.Interval <= 0 {
		add("search.interval must be positive")
	}

	w := c.Scoring.Weights
	if w.Skills < 0 || w.Title < 0 || w.Location < 0 || w.Salary < 0 {
		add("scoring.weights must not be negative")
	}
	if w.Skills+w.Title+w.Location+w.Salary <= 0 {
		add("scoring.weights must not all be zero")
	}

	if c.Apply.MinMatchScore < 0 || c.Apply.MinMatchScore > 1 {
		add("apply.min-match-score must be within [0,1], got %v", c.Apply.MinMatchScore)
	}
	if c.Apply.MaxPerDay < 0 {
		add("apply.max-per-day must not be negative")
	}
	if c.Apply.MaxAttempts < 1 {
		add("apply.max-attempts must be at least 1")
	}
	for platform, channel := range c.Apply.Channels {
		if !knownChannel(channel) {
			add("apply.channels.%s: unknown channel %q", platform, channel)
		}
	}
	if !knownChannel(c.Apply.DefaultChannel) {
		add("apply.default-channel: unknown channel %q", c.Apply.DefaultChannel)
	}
	for _, target := range c.Notify {
		if !knownChannel(target.Channel) || target.Channel == ChannelHeadhunter {
			add("notify: channel %q cannot deliver notifications", target.Channel)
		}
	}

	for _, at := range c.Scheduler.SearchTimes {
		if _, err := scheduler.DailySpec(at); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("scheduler.search-times: %w", err))
		}
	}
	if c.Scheduler.DailyReport != "" {
		if _, err := scheduler.DailySpec(c.Scheduler.DailyReport); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("scheduler.daily-report: %w", err))
		}
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		add("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}

	if c.Events.MaxEntries <= 0 {
		add("events.max-entries must be positive")
	}

	if c.Headhunter.Enabled && c.Headhunter.Token == "" && c.Headhunter.TokenFile == "" {
		add("headhunter.token-file is required when headhunter is enabled")
	}
	if c.Adzuna.Enabled && c.Adzuna.AppID == "" {
		add("adzuna.app-id is required when adzuna is enabled")
	}
	if c.Email.Enabled && (c.Email.SMTP.Host == "" || c.Email.SMTP.From == "") {
		add("email.smtp.host and email.smtp.from are required when email is enabled")
	}
	if c.AI.Enabled && !strings.EqualFold(c.AI.Provider, "gemini") {
		add("ai.provider %q is not supported", c.AI.Provider)
	}

	return errs
}

// Location resolves the timezone the daily quota and schedules follow.
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

func knownChannel(name string) bool {
	switch name {
	case ChannelEmail, ChannelTelegram, ChannelHeadhunter:
		return true
	}
	return false
}

