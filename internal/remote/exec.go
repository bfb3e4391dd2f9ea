package remote

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

const defaultSSHBinary = "ssh"

// DefaultSSHOptions keep the system client from prompting
var DefaultSSHOptions = []string{"-o", "BatchMode=yes", "-o", "ConnectTimeout=10"}

// ExecRunner shells out to the system ssh client, so ssh_config host
// aliases, jump hosts and agent keys apply unchanged.
type ExecRunner struct {
	binary  string
	options []string
	logger  zerolog.Logger
}

// NewExecRunner creates a runner around the given ssh binary
func NewExecRunner(binary string, options []string, logger zerolog.Logger) *ExecRunner {
	if binary == "" {
		binary = defaultSSHBinary
	}
	if options == nil {
		options = DefaultSSHOptions
	}
	return &ExecRunner{
		binary:  binary,
		options: options,
		logger:  logger.With().Str("component", "remote-exec").Logger(),
	}
}

func (r *ExecRunner) args(target Target, command string) []string {
	args := make([]string, 0, len(r.options)+4)
	args = append(args, "-p", strconv.Itoa(target.Port))
	args = append(args, r.options...)
	return append(args, target.Host, command)
}

// Run executes command on the target and waits at most timeout for it
func (r *ExecRunner) Run(ctx context.Context, target Target, command string, timeout time.Duration) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.binary, r.args(target, command)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Killing ssh can leave a child holding the pipes open.
	cmd.WaitDelay = time.Second

	r.logger.Debug().
		Str("target", target.String()).
		Str("command", command).
		Dur("timeout", timeout).
		Msg("Running remote command")

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		res.ExitCode = -1
		return res, &types.RemoteExecutionError{
			Kind:     types.RemoteTimeout,
			Target:   target.String(),
			Command:  command,
			ExitCode: -1,
			Err:      runCtx.Err(),
		}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			res.ExitCode = exitErr.ExitCode()
			return res, &types.RemoteExecutionError{
				Kind:     types.RemoteExit,
				Target:   target.String(),
				Command:  command,
				ExitCode: res.ExitCode,
				Err:      err,
			}
		}
		res.ExitCode = -1
		return res, &types.RemoteExecutionError{
			Kind:     types.RemoteLaunch,
			Target:   target.String(),
			Command:  command,
			ExitCode: -1,
			Err:      err,
		}
	}

	r.logger.Debug().
		Str("target", target.String()).
		Str("command", command).
		Dur("elapsed", time.Since(start)).
		Msg("Remote command finished")

	return res, nil
}
