package remediation

import (
	"time"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

// State is a device's position on the repair ladder
type State int

const (
	NotStarted State = iota
	PrimaryRestart
	PrimaryFallback
	SecondaryRestart
	SecondaryFallback
	Rebooting
	Resolved
	Failed
)

var stateNames = map[State]string{
	NotStarted:        "not_started",
	PrimaryRestart:    "primary_restart",
	PrimaryFallback:   "primary_fallback",
	SecondaryRestart:  "secondary_restart",
	SecondaryFallback: "secondary_fallback",
	Rebooting:         "rebooting",
	Resolved:          "resolved",
	Failed:            "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets reports carry readable state names
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further step will run for the device
func (s State) Terminal() bool {
	return s == Resolved || s == Failed
}

// Outcome of a single remote command
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case types.IsTimeout(err):
		return OutcomeTimeout
	default:
		return OutcomeFailure
	}
}

// Attempt records one remote command issued during a step
type Attempt struct {
	DeviceID  string    `json:"device_id"`
	Step      State     `json:"step"`
	Command   string    `json:"command"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
	Err       string    `json:"error,omitempty"`
}

// DeviceReport is the per-device result of a batch
type DeviceReport struct {
	DeviceID string    `json:"device_id"`
	Port     int       `json:"port"`
	State    State     `json:"state"`
	Method   string    `json:"method,omitempty"`
	Skipped  bool      `json:"skipped,omitempty"`
	Attempts []Attempt `json:"attempts"`
}

// InvalidAlert is an alert that could not be mapped to a device
type InvalidAlert struct {
	AlertID   string `json:"alert_id"`
	AlertName string `json:"alertname"`
	Reason    string `json:"reason"`
}

// Report summarizes one remediation batch
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Devices    []DeviceReport `json:"devices"`
	Invalid    []InvalidAlert `json:"invalid,omitempty"`
	Resolved   int            `json:"resolved"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
}

func (r *Report) tally() {
	r.Resolved, r.Failed, r.Skipped = 0, 0, 0
	for _, d := range r.Devices {
		switch {
		case d.Skipped:
			r.Skipped++
		case d.State == Resolved:
			r.Resolved++
		case d.State == Failed:
			r.Failed++
		}
	}
}

// Device returns the report for id, if the batch touched it
func (r *Report) Device(id string) (DeviceReport, bool) {
	for _, d := range r.Devices {
		if d.DeviceID == id {
			return d, true
		}
	}
	return DeviceReport{}, false
}
