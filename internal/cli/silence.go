package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldtriage/fieldtriage/internal/alerts"
	"github.com/fieldtriage/fieldtriage/internal/duration"
	"github.com/fieldtriage/fieldtriage/internal/silence"
	"github.com/fieldtriage/fieldtriage/internal/types"
)

func newSilenceCmd(a *app) *cobra.Command {
	var (
		fingerprint  string
		class        string
		deviceID     string
		scopeFlag    string
		durationFlag string
		comment      string
		noCorrelated bool
	)

	cmd := &cobra.Command{
		Use:   "silence",
		Short: "Silence one active alert by site or pen",
		Long: `Silence one active alert. The alert is selected by fingerprint (a unique
prefix is enough) or by --class and --device-id. When the alert is a camera
accessibility alert, the emitteroo alert at the same site and pen is
silenced as well unless --no-correlated is given.

Durations accept 2h, 30m, 1d, 1.5h, 1h30m or clock forms such as 00:30:00.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := silence.ParseScope(scopeFlag)
			if err != nil {
				return err
			}
			d, ok := duration.TryParse(durationFlag)
			if !ok {
				return fmt.Errorf("invalid duration %q: try 2h, 30m, 1d or 00:30:00", durationFlag)
			}

			working, err := a.source.FetchActive(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := selectAlert(working, fingerprint, class, deviceID)
			if err != nil {
				return err
			}

			mgr := a.silenceManager()
			var (
				results    []silence.Result
				silenceErr error
			)
			if noCorrelated {
				var res silence.Result
				if res, silenceErr = mgr.SilenceAlert(cmd.Context(), selected, scope, d, comment); silenceErr == nil {
					results = append(results, res)
				}
			} else {
				results, silenceErr = mgr.SilenceWithCorrelated(cmd.Context(), working, selected, scope, d, comment)
			}
			if len(results) > 0 {
				if err := a.printSilences(cmd, results); err != nil {
					return err
				}
			}
			return silenceErr
		},
	}

	f := cmd.Flags()
	f.StringVar(&fingerprint, "fingerprint", "", "alert fingerprint or unique prefix")
	f.StringVar(&class, "class", "", "alertname of the alert to silence")
	f.StringVar(&deviceID, "device-id", "", "device_id of the alert to silence")
	f.StringVar(&scopeFlag, "scope", string(silence.ScopePen), "silence scope: site or pen")
	f.StringVarP(&durationFlag, "duration", "d", "2h", "silence duration")
	f.StringVarP(&comment, "comment", "m", "", "silence comment")
	f.BoolVar(&noCorrelated, "no-correlated", false, "do not silence the correlated companion alert")
	return cmd
}

// selectAlert narrows the working set down to exactly one alert
func selectAlert(working []types.Alert, fingerprint, class, deviceID string) (types.Alert, error) {
	if fingerprint == "" && class == "" && deviceID == "" {
		return types.Alert{}, fmt.Errorf("select an alert with --fingerprint or --class/--device-id")
	}

	candidates := working
	if class != "" {
		candidates = alerts.FilterByClass(candidates, class)
	}

	var matched []types.Alert
	for _, al := range candidates {
		if fingerprint != "" && !strings.HasPrefix(al.ID(), fingerprint) {
			continue
		}
		if deviceID != "" && al.Label(types.LabelDeviceID) != deviceID {
			continue
		}
		matched = append(matched, al)
	}

	switch len(matched) {
	case 0:
		return types.Alert{}, fmt.Errorf("no active alert matches the selection")
	case 1:
		return matched[0], nil
	default:
		return types.Alert{}, fmt.Errorf("%d active alerts match the selection, narrow it down", len(matched))
	}
}

func newSilenceClassCmd(a *app) *cobra.Command {
	var (
		scopeFlag    string
		durationFlag string
		comment      string
		recheck      bool
	)

	cmd := &cobra.Command{
		Use:   "silence-class <alertname>",
		Short: "Silence every active alert of one class and re-check it later",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			class := args[0]

			scopeValue := a.cfg.Silence.BulkScope
			if scopeFlag != "" {
				scopeValue = scopeFlag
			}
			scope, err := silence.ParseScope(scopeValue)
			if err != nil {
				return err
			}

			d := a.cfg.Silence.BulkDuration
			if durationFlag != "" {
				if d, err = duration.Parse(durationFlag); err != nil {
					return err
				}
			}

			view, err := a.source.FetchActive(cmd.Context())
			if err != nil {
				return err
			}

			mgr := a.silenceManager()
			results, silenceErr := mgr.SilenceClass(cmd.Context(), view, class, scope, d, comment)
			if len(results) > 0 {
				if err := a.printSilences(cmd, results); err != nil {
					return err
				}
			}
			if silenceErr != nil {
				return silenceErr
			}
			if !recheck || len(results) == 0 {
				return nil
			}

			still, err := mgr.Recheck(cmd.Context(), class, a.cfg.Silence.RecheckWait)
			if err != nil {
				return err
			}
			if len(still) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No %q alerts active after %s\n", class, a.cfg.Silence.RecheckWait)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %q alerts still active after %s:\n", len(still), class, a.cfg.Silence.RecheckWait)
			return a.printAlerts(cmd, still)
		},
	}

	f := cmd.Flags()
	f.StringVar(&scopeFlag, "scope", "", "silence scope: site or pen (default from config)")
	f.StringVarP(&durationFlag, "duration", "d", "", "silence duration (default from config)")
	f.StringVarP(&comment, "comment", "m", "", "silence comment")
	f.BoolVar(&recheck, "recheck", true, "wait and list alerts of the class that are still active")
	return cmd
}

func (a *app) printSilences(cmd *cobra.Command, results []silence.Result) error {
	if a.output != "table" {
		return printOutput(cmd.OutOrStdout(), a.output, results)
	}

	t := NewTable("SILENCE", "ALERTNAME", "ALERT", "MATCHERS", "ENDS")
	for _, r := range results {
		t.AddRow(
			r.ID,
			r.Class,
			shortID(r.AlertID),
			fmt.Sprintf("%d", len(r.Rule.Matchers)),
			r.Rule.EndsAt.Local().Format(time.DateTime),
		)
	}
	return t.Render(cmd.OutOrStdout())
}
