package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fieldtriage/fieldtriage/internal/alerts"
	"github.com/fieldtriage/fieldtriage/internal/probe"
	"github.com/fieldtriage/fieldtriage/internal/types"
)

const (
	defaultProbeClass = "camera expected to be accessible"
	probeParallelism  = 16
)

// probeResult is one row of the probe command's output
type probeResult struct {
	AlertID   string `json:"alert_id" yaml:"alert_id"`
	DeviceID  string `json:"device_id" yaml:"device_id"`
	Instance  string `json:"instance" yaml:"instance"`
	Reachable bool   `json:"reachable" yaml:"reachable"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newProbeCmd(a *app) *cobra.Command {
	var class string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check TCP reachability of the instances behind active alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := a.source.FetchActive(cmd.Context())
			if err != nil {
				return err
			}
			matching := alerts.FilterByClass(active, class)
			results := probeAlerts(cmd, matching, a)

			if a.output != "table" {
				return printOutput(cmd.OutOrStdout(), a.output, results)
			}
			if len(results) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No active %q alerts\n", class)
				return nil
			}
			t := NewTable("ID", "DEVICE", "INSTANCE", "REACHABLE")
			for _, r := range results {
				reachable := fmt.Sprintf("%t", r.Reachable)
				if r.Error != "" {
					reachable = r.Error
				}
				t.AddRow(shortID(r.AlertID), orDash(r.DeviceID), orDash(r.Instance), reachable)
			}
			return t.Render(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&class, "class", defaultProbeClass, "alertname whose instances are probed")
	return cmd
}

func probeAlerts(cmd *cobra.Command, matching []types.Alert, a *app) []probeResult {
	results := make([]probeResult, len(matching))

	var g errgroup.Group
	g.SetLimit(probeParallelism)
	for i, al := range matching {
		g.Go(func() error {
			res := probeResult{
				AlertID:  al.ID(),
				DeviceID: al.Label(types.LabelDeviceID),
				Instance: al.Label(types.LabelInstance),
			}
			ok, err := probe.ReachableAlert(cmd.Context(), al, a.cfg.Probe.Timeout)
			if err != nil {
				res.Error = err.Error()
			}
			res.Reachable = ok
			results[i] = res

			a.logger.Debug().
				Str("device_id", res.DeviceID).
				Str("instance", res.Instance).
				Bool("reachable", ok).
				Msg("Probed instance")
			return nil
		})
	}
	_ = g.Wait()
	return results
}
