// Package cli wires the triage components into the fieldtriage command.
package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fieldtriage/fieldtriage/internal/alertmanager"
	"github.com/fieldtriage/fieldtriage/internal/alerts"
	"github.com/fieldtriage/fieldtriage/internal/api"
	"github.com/fieldtriage/fieldtriage/internal/config"
	"github.com/fieldtriage/fieldtriage/internal/metrics"
	"github.com/fieldtriage/fieldtriage/internal/silence"
)

const logBufferSize = 1000

// app holds flags and the components built from the loaded config
type app struct {
	configPath string
	envFile    string
	logLevel   string
	output     string

	cfg       *config.Config
	logger    zerolog.Logger
	logBuffer *api.LogBuffer
	logCloser io.Closer
	metrics   *metrics.Recorder
	client    *alertmanager.Client
	source    *alerts.Source
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "fieldtriage",
		Short: "Triage Alertmanager alerts for remotely managed field devices",
		Long: `fieldtriage lists active alerts, silences them by site or pen (including
correlated companion alerts) and runs the remote repair ladder for devices
with failing depth sensors.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				_ = a.logCloser.Close()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "fieldtriage.yaml", "path to the configuration file")
	flags.StringVar(&a.envFile, "env-file", "", "KEY=VALUE file with credentials (default .env if present)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	flags.StringVarP(&a.output, "output", "o", "table", "output format: table, json, yaml")

	root.AddCommand(newAlertsCmd(a))
	root.AddCommand(newSilenceCmd(a))
	root.AddCommand(newSilenceClassCmd(a))
	root.AddCommand(newRemediateCmd(a))
	root.AddCommand(newDaemonCmd(a))
	root.AddCommand(newProbeCmd(a))
	root.AddCommand(newVersionCmd(a))

	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) init() error {
	switch a.output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.LoadConfig(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logBuffer = api.NewLogBuffer(logBufferSize)
	a.logger, a.logCloser = newLogger(cfg.Log, a.logLevel, a.logBuffer)
	a.logger.Debug().
		Str("config_path", a.configPath).
		Str("alertmanager", cfg.Alertmanager.URL).
		Str("remote_driver", cfg.Remote.Driver).
		Msg("Configuration loaded")

	a.metrics = metrics.NewRecorder()
	a.client = alertmanager.NewClient(cfg.AlertmanagerClient(), a.logger)
	a.source = alerts.NewSource(a.client, a.logger)
	return nil
}

func (a *app) silenceManager() *silence.Manager {
	return silence.NewManager(a.client, a.source, a.cfg.SilenceOptions(), a.metrics, a.logger)
}
