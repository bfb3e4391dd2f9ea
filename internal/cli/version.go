package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldtriage/fieldtriage/internal/version"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			switch a.output {
			case "json", "yaml":
				return printOutput(cmd.OutOrStdout(), a.output, info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return nil
		},
	}
}
