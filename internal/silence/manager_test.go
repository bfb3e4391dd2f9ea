package silence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtriage/fieldtriage/internal/alertmanager"
	"github.com/fieldtriage/fieldtriage/internal/types"
)

const (
	cameraAccessible    = "camera expected to be accessible"
	emitterooAccessible = "emitteroo expected to be accessible"
)

type recordingSubmitter struct {
	calls []alertmanager.PostableSilence
	err   error
}

func (s *recordingSubmitter) PostSilence(_ context.Context, p alertmanager.PostableSilence) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.calls = append(s.calls, p)
	return fmt.Sprintf("sil-%d", len(s.calls)), nil
}

type stubFetcher struct {
	alerts []types.Alert
	err    error
	calls  int
}

func (f *stubFetcher) FetchActive(context.Context) ([]types.Alert, error) {
	f.calls++
	return f.alerts, f.err
}

var fixedNow = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func newTestManager(sub Submitter, fetcher *stubFetcher) *Manager {
	return NewManager(sub, fetcher, Options{
		CreatedBy: "ops",
		Now:       func() time.Time { return fixedNow },
		Sleep:     func(time.Duration) {},
	}, nil, zerolog.Nop())
}

func fullLabels(name string) model.LabelSet {
	return model.LabelSet{
		"alertname":   model.LabelValue(name),
		"device_id":   "D1",
		"instance":    "10.0.0.5:9100",
		"instance_id": "i-1",
		"job":         "node-exporter",
		"pen_id":      "7",
		"pen_name":    "Pen 7",
		"pen_number":  "7",
		"port_number": "2201",
		"site_name":   "Northfjord",
		"severity":    "critical",
	}
}

func matcherNames(r Rule) []string {
	names := make([]string, 0, len(r.Matchers))
	for _, m := range r.Matchers {
		names = append(names, m.Name)
	}
	return names
}

func TestManager_BuildRuleScopes(t *testing.T) {
	m := newTestManager(&recordingSubmitter{}, &stubFetcher{})
	alert := types.Alert{Labels: fullLabels(cameraAccessible)}

	tests := []struct {
		scope     Scope
		want      []string
		forbidden []string
	}{
		{
			scope:     ScopeSite,
			want:      []string{"instance_id", "severity", "site_name"},
			forbidden: []string{"alertname", "device_id", "instance", "job", "pen_id", "pen_name", "pen_number", "port_number"},
		},
		{
			scope:     ScopePen,
			want:      []string{"device_id", "instance", "pen_id", "pen_name", "pen_number", "port_number", "severity", "site_name"},
			forbidden: []string{"alertname", "instance_id", "job"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			rule, err := m.BuildRule(alert, tt.scope, 2*time.Hour, "maintenance")
			require.NoError(t, err)

			names := matcherNames(rule)
			assert.Equal(t, tt.want, names)
			for _, f := range tt.forbidden {
				assert.NotContains(t, names, f)
			}
			for _, mt := range rule.Matchers {
				assert.False(t, mt.IsRegex)
			}
			assert.Equal(t, fixedNow, rule.StartsAt)
			assert.Equal(t, fixedNow.Add(2*time.Hour), rule.EndsAt)
			assert.Equal(t, "ops", rule.CreatedBy)
			assert.Equal(t, "maintenance", rule.Comment)
		})
	}
}

func TestManager_BuildRuleRejects(t *testing.T) {
	m := newTestManager(&recordingSubmitter{}, &stubFetcher{})

	_, err := m.BuildRule(types.Alert{Labels: fullLabels("x")}, Scope("farm"), time.Hour, "")
	assert.ErrorIs(t, err, types.ErrFormat)

	_, err = m.BuildRule(types.Alert{Labels: fullLabels("x")}, ScopePen, 0, "")
	assert.ErrorIs(t, err, types.ErrFormat)

	onlyExcluded := types.Alert{Labels: model.LabelSet{"alertname": "x", "job": "node"}}
	_, err = m.BuildRule(onlyExcluded, ScopePen, time.Hour, "")
	assert.ErrorIs(t, err, types.ErrFormat)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope(" Site ")
	require.NoError(t, err)
	assert.Equal(t, ScopeSite, s)

	s, err = ParseScope("pen")
	require.NoError(t, err)
	assert.Equal(t, ScopePen, s)

	_, err = ParseScope("region")
	assert.ErrorIs(t, err, types.ErrFormat)
}

func TestManager_SilenceAlert(t *testing.T) {
	sub := &recordingSubmitter{}
	m := newTestManager(sub, &stubFetcher{})

	res, err := m.SilenceAlert(context.Background(), types.Alert{Labels: fullLabels(cameraAccessible)}, ScopePen, time.Hour, "looking into it")
	require.NoError(t, err)
	assert.Equal(t, "sil-1", res.ID)
	assert.Equal(t, cameraAccessible, res.Class)

	require.Len(t, sub.calls, 1)
	for _, mt := range sub.calls[0].Matchers {
		assert.True(t, mt.IsEqual)
		assert.False(t, mt.IsRegex)
	}
}

func TestManager_SilenceAlertTransportError(t *testing.T) {
	sub := &recordingSubmitter{err: &types.TransportError{Op: "POST", URL: "http://am", StatusCode: 503, Err: errors.New("unavailable")}}
	m := newTestManager(sub, &stubFetcher{})

	_, err := m.SilenceAlert(context.Background(), types.Alert{Labels: fullLabels(cameraAccessible)}, ScopeSite, time.Hour, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
}

func withSite(name, site, pen, device string) types.Alert {
	return types.Alert{Labels: model.LabelSet{
		"alertname": model.LabelValue(name),
		"site_name": model.LabelValue(site),
		"pen_name":  model.LabelValue(pen),
		"device_id": model.LabelValue(device),
	}}
}

func TestManager_SilenceWithCorrelated(t *testing.T) {
	camera := withSite(cameraAccessible, "Northfjord", "Pen 7", "CAM1")

	tests := []struct {
		name      string
		working   []types.Alert
		selected  types.Alert
		wantCalls int
		wantClass []string
	}{
		{
			name: "companion at same site and pen",
			working: []types.Alert{
				camera,
				withSite(emitterooAccessible, "Northfjord", "Pen 7", "EMI1"),
			},
			selected:  camera,
			wantCalls: 2,
			wantClass: []string{cameraAccessible, emitterooAccessible},
		},
		{
			name: "no companion",
			working: []types.Alert{
				camera,
				withSite("lights are flickering", "Northfjord", "Pen 7", "L1"),
			},
			selected:  camera,
			wantCalls: 1,
			wantClass: []string{cameraAccessible},
		},
		{
			name: "companion at another pen",
			working: []types.Alert{
				camera,
				withSite(emitterooAccessible, "Northfjord", "Pen 8", "EMI2"),
			},
			selected:  camera,
			wantCalls: 1,
			wantClass: []string{cameraAccessible},
		},
		{
			name: "at most one companion",
			working: []types.Alert{
				camera,
				withSite(emitterooAccessible, "Northfjord", "Pen 7", "EMI1"),
				withSite(emitterooAccessible, "Northfjord", "Pen 7", "EMI3"),
			},
			selected:  camera,
			wantCalls: 2,
			wantClass: []string{cameraAccessible, emitterooAccessible},
		},
		{
			name: "selected is not a primary class",
			working: []types.Alert{
				withSite(emitterooAccessible, "Northfjord", "Pen 7", "EMI1"),
			},
			selected:  withSite(emitterooAccessible, "Northfjord", "Pen 7", "EMI1"),
			wantCalls: 1,
			wantClass: []string{emitterooAccessible},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &recordingSubmitter{}
			m := newTestManager(sub, &stubFetcher{})

			results, err := m.SilenceWithCorrelated(context.Background(), tt.working, tt.selected, ScopePen, time.Hour, "camera down")
			require.NoError(t, err)
			assert.Len(t, sub.calls, tt.wantCalls)

			classes := make([]string, 0, len(results))
			for _, r := range results {
				classes = append(classes, r.Class)
			}
			assert.Equal(t, tt.wantClass, classes)
		})
	}
}

func TestManager_TryAutoSilenceCorrelatedNeverSelectsSelected(t *testing.T) {
	// A misconfigured pair where a class is its own companion must still
	// never silence the selected alert twice.
	sub := &recordingSubmitter{}
	m := NewManager(sub, &stubFetcher{}, Options{
		Correlations: []Correlation{{Primary: cameraAccessible, Companion: cameraAccessible}},
		Now:          func() time.Time { return fixedNow },
	}, nil, zerolog.Nop())

	camera := withSite(cameraAccessible, "Northfjord", "Pen 7", "CAM1")
	res, err := m.TryAutoSilenceCorrelated(context.Background(), []types.Alert{camera}, camera, ScopePen, time.Hour, "")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, sub.calls)
}

func TestManager_SilenceClassAndRecheck(t *testing.T) {
	flicker := "lights are flickering"
	view := []types.Alert{
		withSite(flicker, "Northfjord", "Pen 1", "L1"),
		withSite(cameraAccessible, "Northfjord", "Pen 1", "CAM1"),
		withSite(flicker, "Northfjord", "Pen 2", "L2"),
	}

	sub := &recordingSubmitter{}
	fetcher := &stubFetcher{alerts: []types.Alert{withSite(flicker, "Northfjord", "Pen 2", "L2")}}
	var slept time.Duration
	m := NewManager(sub, fetcher, Options{
		Now:   func() time.Time { return fixedNow },
		Sleep: func(d time.Duration) { slept += d },
	}, nil, zerolog.Nop())

	results, err := m.SilenceClass(context.Background(), view, flicker, ScopePen, 5*time.Minute, "quick silence")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Len(t, sub.calls, 2)

	still, err := m.Recheck(context.Background(), flicker, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, slept)
	assert.Equal(t, 1, fetcher.calls)
	require.Len(t, still, 1)
	assert.Equal(t, "L2", still[0].Label(types.LabelDeviceID))
}

func TestManager_SilenceClassCollectsFailures(t *testing.T) {
	sub := &recordingSubmitter{err: &types.TransportError{Op: "POST", URL: "http://am", Err: errors.New("refused")}}
	m := newTestManager(sub, &stubFetcher{})

	view := []types.Alert{
		withSite("Winch status errors", "S", "P1", "W1"),
		withSite("Winch status errors", "S", "P2", "W2"),
	}
	results, err := m.SilenceClass(context.Background(), view, "Winch status errors", ScopePen, time.Minute, "")
	assert.Empty(t, results)
	assert.ErrorIs(t, err, types.ErrTransport)
}
