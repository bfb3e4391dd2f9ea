package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldtriage/fieldtriage/internal/audit"
	"github.com/fieldtriage/fieldtriage/internal/remediation"
	"github.com/fieldtriage/fieldtriage/internal/remote"
)

func newRemediateCmd(a *app) *cobra.Command {
	var (
		auditPath   string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Run the repair ladder for devices with depth sensor alerts",
		Long: `Run one remediation batch. Every device with an active alert of a
configured class is walked through service restarts, firmware uploads and,
as a last resort, a reboot. Each finished device is appended to the CSV
audit trail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.remediationEngine()
			if err != nil {
				return err
			}

			var trail *audit.Writer
			if auditPath != "" {
				trail, err = audit.Open(auditPath)
			} else {
				trail, err = audit.OpenInDir(a.cfg.Audit.Dir, time.Now())
			}
			if err != nil {
				return err
			}
			defer trail.Close()
			engine.SetAuditTrail(trail)

			a.logger.Info().Str("audit_path", trail.Path()).Msg("Audit trail opened")

			report, err := engine.FetchAndRun(cmd.Context())
			if err != nil {
				return err
			}

			if metricsFile != "" {
				if err := a.metrics.WriteTextfile(metricsFile); err != nil {
					a.logger.Error().Err(err).Str("path", metricsFile).Msg("Failed to write metrics file")
				}
			}

			if err := a.printReport(cmd, report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d device(s) could not be remediated", report.Failed)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&auditPath, "audit-path", "", "audit CSV path (default depth_fix_<start>.csv in audit.dir)")
	f.StringVar(&metricsFile, "metrics-file", "", "write batch metrics in Prometheus text format to this file")
	return cmd
}

func (a *app) remediationEngine() (*remediation.Engine, error) {
	runner, err := remote.New(a.cfg.RemoteRunner(), a.logger)
	if err != nil {
		return nil, err
	}
	return remediation.NewEngine(a.cfg.RemediationEngine(), runner, a.source, nil, a.metrics, a.logger), nil
}

func (a *app) printReport(cmd *cobra.Command, report *remediation.Report) error {
	if a.output != "table" {
		return printOutput(cmd.OutOrStdout(), a.output, report)
	}

	out := cmd.OutOrStdout()
	if len(report.Devices) == 0 && len(report.Invalid) == 0 {
		fmt.Fprintln(out, "No devices need remediation")
		return nil
	}

	t := NewTable("DEVICE", "PORT", "STATE", "METHOD", "ATTEMPTS")
	for _, d := range report.Devices {
		state := d.State.String()
		if d.Skipped {
			state = "skipped"
		}
		t.AddRow(d.DeviceID, fmt.Sprintf("%d", d.Port), state, orDash(d.Method), fmt.Sprintf("%d", len(d.Attempts)))
	}
	if err := t.Render(out); err != nil {
		return err
	}

	for _, inv := range report.Invalid {
		fmt.Fprintf(out, "skipped alert %s (%s): %s\n", shortID(inv.AlertID), inv.AlertName, inv.Reason)
	}
	fmt.Fprintf(out, "\nrun %s: %d resolved, %d failed, %d skipped in %s\n",
		report.RunID, report.Resolved, report.Failed, report.Skipped,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
	return nil
}
