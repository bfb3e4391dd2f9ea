// Package silence builds scoped silences from alert labels, submits them to
// the alerting backend and propagates them to correlated companion alerts.
package silence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldtriage/fieldtriage/internal/alertmanager"
	"github.com/fieldtriage/fieldtriage/internal/alerts"
	"github.com/fieldtriage/fieldtriage/internal/metrics"
	"github.com/fieldtriage/fieldtriage/internal/types"
)

// Submitter is the write side of the alerting backend
type Submitter interface {
	PostSilence(ctx context.Context, silence alertmanager.PostableSilence) (string, error)
}

// Matcher is a label equality constraint
type Matcher struct {
	Name    string
	Value   string
	IsRegex bool
}

// Rule is a silence ready for submission. It is not modified afterwards.
type Rule struct {
	Matchers  []Matcher
	StartsAt  time.Time
	EndsAt    time.Time
	CreatedBy string
	Comment   string
}

// Result describes one submitted silence
type Result struct {
	ID      string
	AlertID string
	Class   string
	Rule    Rule
}

// Correlation pairs a primary accessibility alert class with the class of
// its companion device at the same site and pen.
type Correlation struct {
	Primary   string
	Companion string
}

// DefaultCorrelations links camera and emitteroo accessibility alerts
var DefaultCorrelations = []Correlation{
	{Primary: "camera expected to be accessible", Companion: "emitteroo expected to be accessible"},
}

// Options configures a Manager
type Options struct {
	CreatedBy    string
	Correlations []Correlation
	// Now and Sleep default to time.Now and time.Sleep.
	Now   func() time.Time
	Sleep func(time.Duration)
}

// Manager creates silences
type Manager struct {
	submitter    Submitter
	fetcher      alerts.Fetcher
	createdBy    string
	correlations []Correlation
	now          func() time.Time
	sleep        func(time.Duration)
	metrics      *metrics.Recorder
	logger       zerolog.Logger
}

// NewManager creates a new silence manager
func NewManager(submitter Submitter, fetcher alerts.Fetcher, opts Options, rec *metrics.Recorder, logger zerolog.Logger) *Manager {
	m := &Manager{
		submitter:    submitter,
		fetcher:      fetcher,
		createdBy:    opts.CreatedBy,
		correlations: opts.Correlations,
		now:          opts.Now,
		sleep:        opts.Sleep,
		metrics:      rec,
		logger:       logger.With().Str("component", "silence").Logger(),
	}
	if m.correlations == nil {
		m.correlations = DefaultCorrelations
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.sleep == nil {
		m.sleep = time.Sleep
	}
	return m
}

// BuildRule turns an alert into a silence rule for the given scope. Every
// label the scope does not exclude becomes a non-regex equality matcher.
func (m *Manager) BuildRule(alert types.Alert, scope Scope, duration time.Duration, comment string) (Rule, error) {
	if _, ok := excludedLabels[scope]; !ok {
		return Rule{}, &types.FormatError{Field: "scope", Value: string(scope), Reason: `must be "site" or "pen"`}
	}
	if duration <= 0 {
		return Rule{}, &types.FormatError{Field: "duration", Value: duration.String(), Reason: "must be positive"}
	}

	matchers := make([]Matcher, 0, len(alert.Labels))
	for name, value := range alert.Labels {
		if scope.Excludes(name) {
			continue
		}
		matchers = append(matchers, Matcher{Name: string(name), Value: string(value)})
	}
	if len(matchers) == 0 {
		return Rule{}, &types.FormatError{Field: "matchers", Reason: "no labels left after applying scope " + string(scope)}
	}
	sort.Slice(matchers, func(i, j int) bool { return matchers[i].Name < matchers[j].Name })

	start := m.now().UTC()
	return Rule{
		Matchers:  matchers,
		StartsAt:  start,
		EndsAt:    start.Add(duration),
		CreatedBy: m.createdBy,
		Comment:   comment,
	}, nil
}

// SilenceAlert builds a scoped rule from the alert and submits it.
func (m *Manager) SilenceAlert(ctx context.Context, alert types.Alert, scope Scope, duration time.Duration, comment string) (Result, error) {
	rule, err := m.BuildRule(alert, scope, duration, comment)
	if err != nil {
		return Result{}, err
	}

	id, err := m.submitter.PostSilence(ctx, rule.postable())
	m.metrics.RecordSilence(string(scope), err)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("alertname", alert.Name()).
			Str("scope", string(scope)).
			Msg("Failed to submit silence")
		return Result{}, fmt.Errorf("silencing %q: %w", alert.Name(), err)
	}

	m.logger.Info().
		Str("silence_id", id).
		Str("alertname", alert.Name()).
		Str("scope", string(scope)).
		Dur("duration", duration).
		Msg("Alert silenced")

	return Result{ID: id, AlertID: alert.ID(), Class: alert.Name(), Rule: rule}, nil
}

// TryAutoSilenceCorrelated silences the companion of a primary
// accessibility alert. The companion is looked up in the given working set
// (no re-fetch): a different alert at the same site and pen whose class is
// the configured companion class. At most one companion is silenced; nil
// is returned when there is none.
func (m *Manager) TryAutoSilenceCorrelated(ctx context.Context, working []types.Alert, selected types.Alert, scope Scope, duration time.Duration, comment string) (*Result, error) {
	companion, ok := m.findCompanion(working, selected)
	if !ok {
		return nil, nil
	}

	m.logger.Info().
		Str("alertname", selected.Name()).
		Str("companion", companion.Name()).
		Str("site_name", selected.Label(types.LabelSiteName)).
		Str("pen_name", selected.Label(types.LabelPenName)).
		Msg("Silencing correlated companion alert")

	res, err := m.SilenceAlert(ctx, companion, scope, duration, comment)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SilenceWithCorrelated silences the selected alert and then its companion,
// if any. The selected silence is returned even when the companion fails.
func (m *Manager) SilenceWithCorrelated(ctx context.Context, working []types.Alert, selected types.Alert, scope Scope, duration time.Duration, comment string) ([]Result, error) {
	first, err := m.SilenceAlert(ctx, selected, scope, duration, comment)
	if err != nil {
		return nil, err
	}

	results := []Result{first}
	companion, err := m.TryAutoSilenceCorrelated(ctx, working, selected, scope, duration, comment)
	if companion != nil {
		results = append(results, *companion)
	}
	return results, err
}

func (m *Manager) findCompanion(working []types.Alert, selected types.Alert) (types.Alert, bool) {
	companionClass := ""
	for _, c := range m.correlations {
		if c.Primary == selected.Name() {
			companionClass = c.Companion
			break
		}
	}
	if companionClass == "" {
		return types.Alert{}, false
	}

	site := selected.Label(types.LabelSiteName)
	pen := selected.Label(types.LabelPenName)
	if site == "" || pen == "" {
		return types.Alert{}, false
	}

	selectedID := selected.ID()
	for _, a := range working {
		if a.ID() == selectedID {
			continue
		}
		if a.Name() == companionClass &&
			a.Label(types.LabelSiteName) == site &&
			a.Label(types.LabelPenName) == pen {
			return a, true
		}
	}
	return types.Alert{}, false
}

// SilenceClass silences every alert of one class found in the view. A
// failed submission does not stop the others; all failures are joined.
func (m *Manager) SilenceClass(ctx context.Context, view []types.Alert, class string, scope Scope, duration time.Duration, comment string) ([]Result, error) {
	matching := alerts.FilterByClass(view, class)
	if len(matching) == 0 {
		m.logger.Info().Str("alertname", class).Msg("No alerts of class in view")
		return nil, nil
	}

	var (
		results []Result
		errs    []error
	)
	for _, a := range matching {
		res, err := m.SilenceAlert(ctx, a, scope, duration, comment)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}

	m.logger.Info().
		Str("alertname", class).
		Int("silenced", len(results)).
		Int("failed", len(errs)).
		Dur("duration", duration).
		Msg("Bulk silence finished")

	return results, errors.Join(errs...)
}

// Recheck waits, re-fetches active alerts and returns those of the class
// that are still firing unsuppressed.
func (m *Manager) Recheck(ctx context.Context, class string, wait time.Duration) ([]types.Alert, error) {
	if wait > 0 {
		m.logger.Info().
			Str("alertname", class).
			Dur("wait", wait).
			Msg("Waiting before re-check")
		m.sleep(wait)
	}

	active, err := m.fetcher.FetchActive(ctx)
	if err != nil {
		return nil, err
	}

	still := alerts.FilterByClass(active, class)
	if len(still) > 0 {
		m.logger.Warn().
			Str("alertname", class).
			Int("count", len(still)).
			Msg("Alerts still active after re-check")
	}
	return still, nil
}

func (r Rule) postable() alertmanager.PostableSilence {
	matchers := make([]alertmanager.Matcher, 0, len(r.Matchers))
	for _, mt := range r.Matchers {
		matchers = append(matchers, alertmanager.Matcher{
			Name:    mt.Name,
			Value:   mt.Value,
			IsRegex: mt.IsRegex,
			IsEqual: true,
		})
	}
	return alertmanager.PostableSilence{
		Matchers:  matchers,
		StartsAt:  r.StartsAt,
		EndsAt:    r.EndsAt,
		CreatedBy: r.CreatedBy,
		Comment:   r.Comment,
	}
}
