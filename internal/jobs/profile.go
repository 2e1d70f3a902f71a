package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Profile describes the candidate. It is read-only input for scoring and rendering.
type Profile struct {
	Name            string   `mapstructure:"name" json:"name"`
	Email           string   `mapstructure:"email" json:"email"`
	Phone           string   `mapstructure:"phone" json:"phone,omitempty"`
	LinkedIn        string   `mapstructure:"linkedin" json:"linkedin,omitempty"`
	Skills          []string `mapstructure:"skills" json:"skills"`
	DesiredTitles   []string `mapstructure:"desired-titles" json:"desired_titles"`
	Locations       []string `mapstructure:"locations" json:"locations"`
	RemoteOK        bool     `mapstructure:"remote-ok" json:"remote_ok"`
	SalaryMin       float64  `mapstructure:"salary-min" json:"salary_min,omitempty"`
	SalaryMax       float64  `mapstructure:"salary-max" json:"salary_max,omitempty"`
	ExperienceYears int      `mapstructure:"experience-years" json:"experience_years,omitempty"`
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// ParseLevel accepts a level name in any case. Empty input yields "".
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case "", LevelInfo, LevelWarning, LevelError, LevelSuccess:
		return l, nil
	}
	return "", fmt.Errorf("unknown event level %q", s)
}

// LogEvent is one entry of the append-only event log.
type LogEvent struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}
