package silence

import (
	"strings"

	"github.com/prometheus/common/model"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

// Scope decides which alert labels survive into a silence's matchers.
type Scope string

const (
	// ScopeSite drops device identifying labels so the silence covers the
	// whole site.
	ScopeSite Scope = "site"
	// ScopePen keeps device identity and silences within a pen.
	ScopePen Scope = "pen"
)

var excludedLabels = map[Scope]map[model.LabelName]struct{}{
	ScopeSite: set("alertname", "device_id", "instance", "job", "pen_id", "pen_name", "pen_number", "port_number"),
	ScopePen:  set("alertname", "instance_id", "job"),
}

func set(names ...model.LabelName) map[model.LabelName]struct{} {
	m := make(map[model.LabelName]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// ParseScope accepts "site" or "pen" in any case.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := excludedLabels[scope]; !ok {
		return "", &types.FormatError{Field: "scope", Value: s, Reason: `must be "site" or "pen"`}
	}
	return scope, nil
}

// Excludes reports whether the scope drops the label from matchers.
func (s Scope) Excludes(name model.LabelName) bool {
	_, ok := excludedLabels[s][name]
	return ok
}
