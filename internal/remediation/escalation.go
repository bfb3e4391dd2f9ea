package remediation

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fieldtriage/fieldtriage/internal/audit"
	"github.com/fieldtriage/fieldtriage/internal/remote"
)

// escalate reboots every device the ladder could not fix, waits once for
// the whole cohort to come back and decides each device on a single shared
// re-check. The reboot command's own result is recorded but not decisive.
func (e *Engine) escalate(ctx context.Context, pending []*DeviceReport, logger zerolog.Logger) {
	ids := make([]string, 0, len(pending))
	for _, rep := range pending {
		ids = append(ids, rep.DeviceID)
	}
	logger.Warn().
		Strs("devices", ids).
		Dur("interval", e.cfg.RebootInterval).
		Msg("Rebooting devices the ladder could not fix")

	reboot := command{text: e.cfg.RebootCommand, timeout: e.cfg.RebootTimeout}
	for _, rep := range pending {
		// Pacing only; the limiter's clock is not the injected one.
		e.sleep(e.limiter.Reserve().Delay())

		devLogger := logger.With().Str("device_id", rep.DeviceID).Int("port", rep.Port).Logger()
		target := remote.Target{Host: e.cfg.Host, Port: rep.Port}
		e.execute(ctx, target, Rebooting, reboot, rep, devLogger)
	}

	logger.Info().
		Dur("wait", e.cfg.RebootWait).
		Int("devices", len(pending)).
		Msg("Waiting for rebooted devices")
	e.sleep(e.cfg.RebootWait)

	active, err := e.fetcher.FetchActive(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Re-check after reboot failed, marking cohort failed")
		for _, rep := range pending {
			e.finish(rep, Failed, audit.MethodFailed, logger.With().Str("device_id", rep.DeviceID).Logger())
		}
		return
	}

	still := alertingDevices(active, e.cfg.Classes)
	for _, rep := range pending {
		devLogger := logger.With().Str("device_id", rep.DeviceID).Logger()
		if still[rep.DeviceID] {
			e.finish(rep, Failed, audit.MethodFailed, devLogger)
			continue
		}
		e.finish(rep, Resolved, audit.MethodReboot, devLogger)
	}
}
