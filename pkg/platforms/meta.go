package platforms

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-notifier/internal/domain"
)

const (
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
)

// Schedule describes how often a platform is polled.
type Schedule struct {
	Type         string `json:"type" yaml:"type"`
	EverySeconds int    `json:"every_seconds" yaml:"every_seconds"`
	Expr         string `json:"expr" yaml:"expr"`
}

// Spec renders the schedule in robfig/cron syntax.
func (s Schedule) Spec() (string, error) {
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "", ScheduleInterval:
		if s.EverySeconds <= 0 {
			return "", fmt.Errorf("interval schedule needs every_seconds > 0")
		}
		return fmt.Sprintf("@every %s", time.Duration(s.EverySeconds)*time.Second), nil
	case ScheduleCron:
		if strings.TrimSpace(s.Expr) == "" {
			return "", fmt.Errorf("cron schedule needs expr")
		}
		return strings.TrimSpace(s.Expr), nil
	default:
		return "", fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// Meta is what the rest of the system knows about a platform.
type Meta struct {
	ID           string
	Name         string
	HasTarget    bool
	TagSupport   bool
	Categories   domain.CategoryTable
	SearchHint   string
	Schedule     Schedule
	DetectMode   domain.DetectMode
	Render       bool
	Enrich       bool
	RequestDelay time.Duration
	Headers      map[string]string

	targetURL *regexp.Regexp
	targetID  *regexp.Regexp
}

const defaultTargetIDPattern = `^[^\s/:]+$`

// NewMeta validates the descriptive part of a platform entry. Custom adapters built
// outside this package use it to expose the same Meta as the generic ones.
func NewMeta(cfg Platform) (Meta, error) {
	table, err := domain.NewCategoryTable(cfg.Categories)
	if err != nil {
		return Meta{}, fmt.Errorf("platform %q categories: %w", cfg.ID, err)
	}

	m := Meta{
		ID:           cfg.ID,
		Name:         cfg.Name,
		HasTarget:    cfg.HasTarget,
		TagSupport:   cfg.TagSupport,
		Categories:   table,
		SearchHint:   cfg.SearchHint,
		Schedule:     cfg.Schedule,
		DetectMode:   domain.DetectMode(cfg.DetectMode),
		Render:       cfg.Render,
		Enrich:       cfg.Enrich,
		RequestDelay: cfg.RequestDelay(),
		Headers:      Headers(cfg),
	}
	if m.DetectMode == "" {
		m.DetectMode = domain.DetectIDSet
	}
	if m.DetectMode != domain.DetectIDSet && m.DetectMode != domain.DetectHighWaterMark {
		return Meta{}, fmt.Errorf("platform %q: unknown detect_mode %q", cfg.ID, cfg.DetectMode)
	}
	if _, err := m.Schedule.Spec(); err != nil {
		return Meta{}, fmt.Errorf("platform %q: %w", cfg.ID, err)
	}

	if cfg.TargetPattern != "" {
		re, err := regexp.Compile(cfg.TargetPattern)
		if err != nil {
			return Meta{}, fmt.Errorf("platform %q target_pattern: %w", cfg.ID, err)
		}
		if re.SubexpIndex("id") < 0 {
			return Meta{}, fmt.Errorf("platform %q target_pattern needs a named group \"id\"", cfg.ID)
		}
		m.targetURL = re
	}
	idPattern := cfg.TargetIDPattern
	if idPattern == "" {
		idPattern = defaultTargetIDPattern
	}
	re, err := regexp.Compile(idPattern)
	if err != nil {
		return Meta{}, fmt.Errorf("platform %q target_id_pattern: %w", cfg.ID, err)
	}
	m.targetID = re

	return m, nil
}

// ParseTarget extracts a target from user input: either a URL matching the
// platform's target pattern or a raw id. The DefaultTarget sentinel is never a
// valid id on a platform that has targets.
func (m Meta) ParseTarget(input string) (domain.Target, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("%w: empty input", domain.ErrTargetResolution)
	}
	if m.targetURL != nil {
		if match := m.targetURL.FindStringSubmatch(input); match != nil {
			if id := match[m.targetURL.SubexpIndex("id")]; id != "" {
				return m.checkTarget(domain.Target(id))
			}
		}
	}
	if m.targetID != nil && m.targetID.MatchString(input) {
		return m.checkTarget(domain.Target(input))
	}
	return "", fmt.Errorf("%w: %q is not a valid %s target", domain.ErrTargetResolution, input, m.ID)
}

func (m Meta) checkTarget(t domain.Target) (domain.Target, error) {
	if m.HasTarget && strings.EqualFold(string(t), string(domain.DefaultTarget)) {
		return "", fmt.Errorf("%w: %q is reserved", domain.ErrTargetResolution, t)
	}
	return t, nil
}
