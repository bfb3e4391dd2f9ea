package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldtriage/fieldtriage/internal/alerts"
	"github.com/fieldtriage/fieldtriage/internal/types"
)

func newAlertsCmd(a *app) *cobra.Command {
	var classes []string

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List active, unsilenced alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := a.source.FetchActive(cmd.Context())
			if err != nil {
				return err
			}
			if len(classes) > 0 {
				active = alerts.FilterByClasses(active, classes...)
			}
			return a.printAlerts(cmd, active)
		},
	}

	cmd.Flags().StringArrayVar(&classes, "class", nil, "only show alerts with this alertname (repeatable, exact match)")
	return cmd
}

func (a *app) printAlerts(cmd *cobra.Command, list []types.Alert) error {
	if a.output != "table" {
		return printOutput(cmd.OutOrStdout(), a.output, list)
	}

	t := NewTable("ID", "ALERTNAME", "DEVICE", "PORT", "SITE", "PEN", "SINCE")
	for _, al := range list {
		since := "-"
		if !al.StartsAt.IsZero() {
			since = al.StartsAt.Local().Format(time.DateTime)
		}
		t.AddRow(
			shortID(al.ID()),
			al.Name(),
			orDash(al.Label(types.LabelDeviceID)),
			orDash(al.Label(types.LabelPortNumber)),
			orDash(al.Label(types.LabelSiteName)),
			orDash(al.Label(types.LabelPenName)),
			since,
		)
	}
	return t.Render(cmd.OutOrStdout())
}
