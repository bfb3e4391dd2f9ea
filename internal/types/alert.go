package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// Well-known label names carried by field device alerts
const (
	LabelAlertName  model.LabelName = "alertname"
	LabelDeviceID   model.LabelName = "device_id"
	LabelPortNumber model.LabelName = "port_number"
	LabelSiteName   model.LabelName = "site_name"
	LabelPenName    model.LabelName = "pen_name"
	LabelInstance   model.LabelName = "instance"
)

// AlertStatus mirrors the Alertmanager status block. An alert is active and
// unsuppressed only while SilencedBy is empty.
type AlertStatus struct {
	State       string   `json:"state"`
	SilencedBy  []string `json:"silencedBy"`
	InhibitedBy []string `json:"inhibitedBy,omitempty"`
}

// Alert is a read-only snapshot of a firing alert as delivered by the
// alerting backend.
type Alert struct {
	Labels       model.LabelSet `json:"labels"`
	Annotations  model.LabelSet `json:"annotations"`
	StartsAt     time.Time      `json:"startsAt"`
	EndsAt       time.Time      `json:"endsAt"`
	Fingerprint  string         `json:"fingerprint,omitempty"`
	GeneratorURL string         `json:"generatorURL,omitempty"`
	Status       AlertStatus    `json:"status"`
}

// Name returns the alert class (the alertname label).
func (a Alert) Name() string {
	return string(a.Labels[LabelAlertName])
}

// Label returns the value of a label, or "" when absent.
func (a Alert) Label(name model.LabelName) string {
	return string(a.Labels[name])
}

// HasLabel reports whether the label is present with a non-empty value.
func (a Alert) HasLabel(name model.LabelName) bool {
	return strings.TrimSpace(string(a.Labels[name])) != ""
}

// Active reports whether no silence currently suppresses the alert.
func (a Alert) Active() bool {
	return len(a.Status.SilencedBy) == 0
}

// ID identifies the alert. The backend fingerprint is used when present,
// otherwise one is derived from the label set.
func (a Alert) ID() string {
	if a.Fingerprint != "" {
		return a.Fingerprint
	}
	return a.Labels.Fingerprint().String()
}

// Device is a field device derived from an alert's labels. It is never
// stored; the remote target port comes from the port_number label.
type Device struct {
	ID   string
	Port int
}

// DeviceID returns the normalized device_id label, or "" when absent.
func DeviceID(a Alert) string {
	return strings.TrimSpace(a.Label(LabelDeviceID))
}

// DeviceFromAlert extracts and validates the device identity of an alert.
// Missing or malformed device_id / port_number yield a *FormatError.
func DeviceFromAlert(a Alert) (Device, error) {
	id := DeviceID(a)
	if id == "" {
		return Device{}, &FormatError{Field: string(LabelDeviceID), Reason: "missing"}
	}

	raw := strings.TrimSpace(a.Label(LabelPortNumber))
	if raw == "" {
		return Device{}, &FormatError{Field: string(LabelPortNumber), Reason: "missing"}
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return Device{}, &FormatError{Field: string(LabelPortNumber), Value: raw, Reason: "not an integer"}
	}
	if port < 1 || port > 65535 {
		return Device{}, &FormatError{Field: string(LabelPortNumber), Value: raw, Reason: "out of range"}
	}

	return Device{ID: id, Port: port}, nil
}
