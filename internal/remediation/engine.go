// Package remediation drives failing devices through an escalating remote
// repair ladder and finishes with a batched reboot of whatever is left.
package remediation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fieldtriage/fieldtriage/internal/alerts"
	"github.com/fieldtriage/fieldtriage/internal/audit"
	"github.com/fieldtriage/fieldtriage/internal/metrics"
	"github.com/fieldtriage/fieldtriage/internal/remote"
	"github.com/fieldtriage/fieldtriage/internal/types"
)

// AuditTrail receives one row per terminal device outcome
type AuditTrail interface {
	Append(at time.Time, deviceID, method string) error
}

// Config holds the ladder's commands and timings
type Config struct {
	Classes []string
	Host    string

	PrimaryUnit     string
	PrimaryUpload   string
	SecondaryUnit   string
	SecondaryUpload string
	RebootCommand   string

	Settle         time.Duration
	RebootWait     time.Duration
	RebootInterval time.Duration

	CommandTimeout time.Duration
	UploadTimeout  time.Duration
	RebootTimeout  time.Duration

	Concurrency int
}

// DefaultConfig returns the depth sensor repair ladder
func DefaultConfig() Config {
	return Config{
		Classes:         []string{"depth sensor missing", "Depth sensor is malfunctioning"},
		Host:            "camera",
		PrimaryUnit:     "smooth-operator",
		PrimaryUpload:   "sudo smooth-operator aquaino upload --force",
		SecondaryUnit:   "smooth",
		SecondaryUpload: "sudo /opt/smooth aquaino upload --force",
		RebootCommand:   "sudo /sbin/reboot",
		Settle:          60 * time.Second,
		RebootWait:      10 * time.Minute,
		RebootInterval:  300 * time.Millisecond,
		CommandTimeout:  10 * time.Second,
		UploadTimeout:   20 * time.Second,
		RebootTimeout:   10 * time.Second,
		Concurrency:     1,
	}
}

type command struct {
	text    string
	timeout time.Duration
}

type ladderStep struct {
	state    State
	commands []command
}

// Engine runs remediation batches. One Engine may run several batches but
// not concurrently.
type Engine struct {
	cfg     Config
	runner  remote.CommandRunner
	fetcher alerts.Fetcher
	trail   AuditTrail
	metrics *metrics.Recorder
	limiter *rate.Limiter
	steps   []ladderStep
	logger  zerolog.Logger

	sleep func(time.Duration)
	now   func() time.Time

	mu      sync.RWMutex
	lastRun *Report
}

// NewEngine creates a remediation engine. trail and rec may be nil.
func NewEngine(cfg Config, runner remote.CommandRunner, fetcher alerts.Fetcher, trail AuditTrail, rec *metrics.Recorder, logger zerolog.Logger) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	e := &Engine{
		cfg:     cfg,
		runner:  runner,
		fetcher: fetcher,
		trail:   trail,
		metrics: rec,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  logger.With().Str("component", "remediation").Logger(),
		sleep:   time.Sleep,
		now:     time.Now,
	}
	if cfg.RebootInterval > 0 {
		e.limiter = rate.NewLimiter(rate.Every(cfg.RebootInterval), 1)
	}
	e.steps = e.buildLadder()
	return e
}

// SetSleeper replaces the blocking sleep used for settle waits
func (e *Engine) SetSleeper(sleep func(time.Duration)) {
	e.sleep = sleep
}

// SetClock replaces the time source used for attempt and audit timestamps
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetAuditTrail replaces the audit trail used by subsequent batches
func (e *Engine) SetAuditTrail(trail AuditTrail) {
	e.trail = trail
}

// LastRun returns the most recent batch report, or nil
func (e *Engine) LastRun() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRun
}

func (e *Engine) buildLadder() []ladderStep {
	c := e.cfg
	restart := func(unit string) []command {
		return []command{{text: "sudo systemctl restart " + unit, timeout: c.CommandTimeout}}
	}
	fallback := func(unit, upload string) []command {
		return []command{
			{text: "sudo systemctl stop " + unit, timeout: c.CommandTimeout},
			{text: upload, timeout: c.UploadTimeout},
			{text: "sudo systemctl start " + unit, timeout: c.CommandTimeout},
		}
	}
	return []ladderStep{
		{state: PrimaryRestart, commands: restart(c.PrimaryUnit)},
		{state: PrimaryFallback, commands: fallback(c.PrimaryUnit, c.PrimaryUpload)},
		{state: SecondaryRestart, commands: restart(c.SecondaryUnit)},
		{state: SecondaryFallback, commands: fallback(c.SecondaryUnit, c.SecondaryUpload)},
	}
}

// FetchAndRun fetches the active alerts and remediates the matching ones.
// Only a failed initial fetch is returned as an error.
func (e *Engine) FetchAndRun(ctx context.Context) (*Report, error) {
	active, err := e.fetcher.FetchActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch active alerts: %w", err)
	}
	return e.Run(ctx, active), nil
}

// Run remediates every device with an alert of a configured class. Alerts
// that cannot be mapped to a device are skipped and listed in the report.
// The context is checked between devices, between steps and before the
// reboot phase. Remote commands and re-checks never see its cancellation, so
// a step already running always finishes.
func (e *Engine) Run(ctx context.Context, active []types.Alert) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
	}
	logger := e.logger.With().Str("run_id", report.RunID).Logger()
	work := context.WithoutCancel(ctx)

	devices, invalid := groupDevices(alerts.FilterByClasses(active, e.cfg.Classes...))
	report.Invalid = invalid
	e.metrics.RecordSkipped(len(invalid))
	for _, inv := range invalid {
		logger.Warn().
			Str("alert_id", inv.AlertID).
			Str("alertname", inv.AlertName).
			Str("reason", inv.Reason).
			Msg("Skipping alert without usable device")
	}

	logger.Info().
		Int("devices", len(devices)).
		Int("invalid", len(invalid)).
		Int("concurrency", e.cfg.Concurrency).
		Msg("Remediation batch started")

	reports := make([]DeviceReport, len(devices))
	for i, d := range devices {
		reports[i] = DeviceReport{DeviceID: d.ID, Port: d.Port, State: NotStarted}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i := range devices {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			e.runLadder(ctx, work, devices[i], &reports[i], logger)
			return nil
		})
	}
	_ = g.Wait()

	var pending []*DeviceReport
	for i := range reports {
		switch {
		case reports[i].State == NotStarted:
			reports[i].Skipped = true
		case reports[i].State == Rebooting:
			pending = append(pending, &reports[i])
		}
	}

	if len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			logger.Warn().
				Err(err).
				Int("pending", len(pending)).
				Msg("Batch cancelled before reboot phase")
			for _, rep := range pending {
				rep.Skipped = true
			}
		} else {
			e.escalate(work, pending, logger)
		}
	}

	report.Devices = reports
	report.FinishedAt = e.now()
	report.tally()
	e.metrics.BatchFinished(report.FinishedAt)

	logger.Info().
		Int("resolved", report.Resolved).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Remediation batch finished")

	e.mu.Lock()
	e.lastRun = report
	e.mu.Unlock()

	return report
}

// groupDevices keeps the first valid port seen for each device_id, in order
// of first appearance.
func groupDevices(matching []types.Alert) ([]types.Device, []InvalidAlert) {
	var (
		devices []types.Device
		invalid []InvalidAlert
		seen    = make(map[string]struct{})
	)
	for _, a := range matching {
		d, err := types.DeviceFromAlert(a)
		if err != nil {
			invalid = append(invalid, InvalidAlert{AlertID: a.ID(), AlertName: a.Name(), Reason: err.Error()})
			continue
		}
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		devices = append(devices, d)
	}
	return devices, invalid
}

// runLadder walks the device through the repair steps. ctx is only polled
// before each step; work carries the remote commands and re-checks.
func (e *Engine) runLadder(ctx, work context.Context, dev types.Device, rep *DeviceReport, logger zerolog.Logger) {
	logger = logger.With().Str("device_id", dev.ID).Int("port", dev.Port).Logger()
	target := remote.Target{Host: e.cfg.Host, Port: dev.Port}
	start := e.now()
	defer func() { e.metrics.ObserveLadder(e.now().Sub(start)) }()

	for i, step := range e.steps {
		if i > 0 && ctx.Err() != nil {
			rep.Skipped = true
			logger.Warn().
				Err(ctx.Err()).
				Str("last_step", rep.State.String()).
				Msg("Batch cancelled, stopping ladder after completed step")
			return
		}
		rep.State = step.state
		logger.Info().Str("step", step.state.String()).Msg("Starting repair step")

		if !e.runStep(work, target, step, rep, logger) {
			logger.Warn().Str("step", step.state.String()).Msg("Repair step failed, escalating")
			continue
		}

		logger.Debug().Dur("settle", e.cfg.Settle).Msg("Waiting for alert to settle")
		e.sleep(e.cfg.Settle)

		if !e.stillAlerting(work, dev.ID, logger) {
			e.finish(rep, Resolved, audit.MethodRestartOrFallback, logger)
			return
		}
		logger.Info().Str("step", step.state.String()).Msg("Alert still active after repair step")
	}

	rep.State = Rebooting
	logger.Warn().Msg("Ladder exhausted, device queued for reboot")
}

// runStep issues every command of the step, even after one fails, and
// reports whether all of them succeeded.
func (e *Engine) runStep(ctx context.Context, target remote.Target, step ladderStep, rep *DeviceReport, logger zerolog.Logger) bool {
	ok := true
	for _, cmd := range step.commands {
		if e.execute(ctx, target, step.state, cmd, rep, logger) != OutcomeSuccess {
			ok = false
		}
	}
	return ok
}

func (e *Engine) execute(ctx context.Context, target remote.Target, state State, cmd command, rep *DeviceReport, logger zerolog.Logger) Outcome {
	_, err := e.runner.Run(ctx, target, cmd.text, cmd.timeout)
	outcome := outcomeOf(err)

	attempt := Attempt{
		DeviceID:  rep.DeviceID,
		Step:      state,
		Command:   cmd.text,
		Outcome:   outcome,
		Timestamp: e.now(),
	}
	if err != nil {
		attempt.Err = err.Error()
	}
	rep.Attempts = append(rep.Attempts, attempt)
	e.metrics.RecordAttempt(state.String(), string(outcome))

	event := logger.Info()
	if outcome != OutcomeSuccess {
		event = logger.Warn().Err(err)
	}
	event.
		Str("step", state.String()).
		Str("command", cmd.text).
		Str("outcome", string(outcome)).
		Msg("Remote command finished")

	return outcome
}

// stillAlerting re-fetches and looks for an alert of a remediable class on
// the device. A failed fetch counts as still alerting.
func (e *Engine) stillAlerting(ctx context.Context, deviceID string, logger zerolog.Logger) bool {
	active, err := e.fetcher.FetchActive(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Re-check failed, treating device as still alerting")
		return true
	}
	return alertingDevices(active, e.cfg.Classes)[deviceID]
}

func alertingDevices(active []types.Alert, classes []string) map[string]bool {
	out := make(map[string]bool)
	for _, a := range alerts.FilterByClasses(active, classes...) {
		if id := types.DeviceID(a); id != "" {
			out[id] = true
		}
	}
	return out
}

func (e *Engine) finish(rep *DeviceReport, state State, method string, logger zerolog.Logger) {
	rep.State = state
	rep.Method = method
	e.metrics.RecordOutcome(method)

	logger.Info().
		Str("state", state.String()).
		Str("method", method).
		Msg("Device remediation finished")

	if e.trail == nil {
		return
	}
	if err := e.trail.Append(e.now(), rep.DeviceID, method); err != nil {
		logger.Error().Err(err).Msg("Failed to write audit row")
	}
}
