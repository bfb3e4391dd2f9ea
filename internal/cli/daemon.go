package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fieldtriage/fieldtriage/internal/api"
	"github.com/fieldtriage/fieldtriage/internal/audit"
	"github.com/fieldtriage/fieldtriage/internal/config"
	"github.com/fieldtriage/fieldtriage/internal/metrics"
	"github.com/fieldtriage/fieldtriage/internal/remediation"
	"github.com/fieldtriage/fieldtriage/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newDaemonCmd(a *app) *cobra.Command {
	var (
		schedule string
		listen   string
		runNow   bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run remediation batches on a schedule and serve the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if schedule != "" {
				a.cfg.Daemon.Schedule = schedule
			}
			if listen != "" {
				a.cfg.Daemon.Listen = listen
			}

			engine, err := a.remediationEngine()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			d := newDaemon(ctx, engine, a.cfg, a.metrics, a.logger)

			scheduler := cron.New(
				cron.WithLogger(cronLogger{logger: d.logger}),
				cron.WithChain(cron.Recover(cronLogger{logger: d.logger})),
			)
			if _, err := scheduler.AddFunc(a.cfg.Daemon.Schedule, d.tick); err != nil {
				return err
			}

			info := version.Get()
			apiServer := api.NewServer(engine, a.logger, a.cfg.Daemon.Listen)
			apiServer.SetLogBuffer(a.logBuffer)
			apiServer.SetRegistry(a.metrics.Registry())
			apiServer.SetVersion(info.Version, info.Commit, info.BuildDate)
			apiServer.SetTriggerFunc(d.trigger)

			go func() {
				if err := apiServer.Start(); err != nil {
					a.logger.Error().
						Err(err).
						Msg("API server error")
				}
			}()

			scheduler.Start()
			if runNow {
				d.trigger()
			}

			// Setup graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			a.logger.Info().
				Str("schedule", a.cfg.Daemon.Schedule).
				Str("listen", a.cfg.Daemon.Listen).
				Msg("fieldtriage daemon running, press Ctrl+C to stop")

			select {
			case <-sigChan:
			case <-ctx.Done():
			}
			a.logger.Info().Msg("Shutting down...")

			<-scheduler.Stop().Done()
			cancel()
			d.wait()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error().Err(err).Msg("Error stopping API server")
			}

			a.logger.Info().Msg("fieldtriage daemon stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&schedule, "schedule", "", "cron schedule for batches (default from config)")
	f.StringVar(&listen, "listen", "", "status API listen address (default from config)")
	f.BoolVar(&runNow, "run-now", false, "start a batch immediately instead of waiting for the schedule")
	return cmd
}

// daemon serializes remediation batches. A batch requested while another
// one runs is dropped.
type daemon struct {
	ctx         context.Context
	engine      *remediation.Engine
	auditDir    string
	metricsFile string
	metrics     *metrics.Recorder
	logger      zerolog.Logger
	now         func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

func newDaemon(ctx context.Context, engine *remediation.Engine, cfg *config.Config, rec *metrics.Recorder, logger zerolog.Logger) *daemon {
	return &daemon{
		ctx:         ctx,
		engine:      engine,
		auditDir:    cfg.Audit.Dir,
		metricsFile: cfg.Daemon.MetricsFile,
		metrics:     rec,
		logger:      logger.With().Str("component", "daemon").Logger(),
		now:         time.Now,
	}
}

func (d *daemon) tick() {
	if !d.trigger() {
		d.logger.Warn().Msg("Previous batch still running, skipping scheduled batch")
	}
}

// trigger starts a batch in the background. It returns false when a batch
// is already running.
func (d *daemon) trigger() bool {
	if d.ctx.Err() != nil {
		return false
	}
	if !d.running.CompareAndSwap(false, true) {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.running.Store(false)
		d.runBatch()
	}()
	return true
}

func (d *daemon) wait() {
	d.wg.Wait()
}

func (d *daemon) runBatch() {
	trail, err := audit.OpenInDir(d.auditDir, d.now())
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to open audit trail, batch not started")
		return
	}
	defer func() {
		if err := trail.Close(); err != nil {
			d.logger.Error().Err(err).Str("path", trail.Path()).Msg("Failed to close audit trail")
		}
	}()
	d.engine.SetAuditTrail(trail)

	report, err := d.engine.FetchAndRun(d.ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("Remediation batch failed")
		return
	}

	d.logger.Info().
		Str("run_id", report.RunID).
		Str("audit_path", trail.Path()).
		Int("devices", len(report.Devices)).
		Msg("Batch complete")

	if d.metricsFile != "" {
		if err := d.metrics.WriteTextfile(d.metricsFile); err != nil {
			d.logger.Error().Err(err).Str("path", d.metricsFile).Msg("Failed to write metrics file")
		}
	}
}

// cronLogger adapts zerolog to the scheduler's logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
