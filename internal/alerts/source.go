// Package alerts fetches the currently firing, unsuppressed alerts and
// narrows them down by alert class.
package alerts

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

// Backend is the read side of the alerting backend.
type Backend interface {
	GetAlerts(ctx context.Context) ([]types.Alert, error)
}

// Fetcher is what consumers need from a Source; the remediation engine and
// the silence manager re-check alert state through it.
type Fetcher interface {
	FetchActive(ctx context.Context) ([]types.Alert, error)
}

// Source returns active alerts from a backend
type Source struct {
	backend Backend
	logger  zerolog.Logger
}

// NewSource creates a new alert source
func NewSource(backend Backend, logger zerolog.Logger) *Source {
	return &Source{
		backend: backend,
		logger:  logger.With().Str("component", "alert-source").Logger(),
	}
}

// FetchActive queries the backend and keeps only alerts no silence applies
// to. Transport failures are returned unchanged to the caller.
func (s *Source) FetchActive(ctx context.Context) ([]types.Alert, error) {
	all, err := s.backend.GetAlerts(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]types.Alert, 0, len(all))
	for _, a := range all {
		if a.Active() {
			active = append(active, a)
		}
	}

	s.logger.Debug().
		Int("total", len(all)).
		Int("active", len(active)).
		Msg("Fetched active alerts")

	return active, nil
}

// FilterByClass returns, in input order, the alerts whose alertname equals
// className exactly. Comparison is case-sensitive.
func FilterByClass(alerts []types.Alert, className string) []types.Alert {
	return FilterByClasses(alerts, className)
}

// FilterByClasses is FilterByClass for a set of classes.
func FilterByClasses(alerts []types.Alert, classNames ...string) []types.Alert {
	wanted := make(map[string]struct{}, len(classNames))
	for _, c := range classNames {
		wanted[c] = struct{}{}
	}

	out := make([]types.Alert, 0, len(alerts))
	for _, a := range alerts {
		if _, ok := wanted[a.Name()]; ok {
			out = append(out, a)
		}
	}
	return out
}
