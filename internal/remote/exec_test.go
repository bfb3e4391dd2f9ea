package remote

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

const fakeSSH = `#!/bin/sh
[ "$1" = "-p" ] || exit 90
port="$2"
shift 2
host="$1"
cmd="$2"
case "$cmd" in
  fail) echo "boom" >&2; exit 3 ;;
  hang) exec sleep 5 ;;
  *) echo "$host:$port $cmd" ;;
esac
`

func fakeSSHBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ssh")
	require.NoError(t, os.WriteFile(path, []byte(fakeSSH), 0o755))
	return path
}

func TestExecRunner(t *testing.T) {
	runner := NewExecRunner(fakeSSHBinary(t), []string{}, zerolog.Nop())
	target := Target{Host: "camera", Port: 2201}

	tests := []struct {
		name     string
		command  string
		timeout  time.Duration
		wantKind types.RemoteErrorKind
		wantCode int
		stdout   string
		stderr   string
	}{
		{name: "success", command: "sudo systemctl restart smooth-operator", timeout: 5 * time.Second, stdout: "camera:2201 sudo systemctl restart smooth-operator\n"},
		{name: "non-zero exit", command: "fail", timeout: 5 * time.Second, wantKind: types.RemoteExit, wantCode: 3, stderr: "boom\n"},
		{name: "timeout", command: "hang", timeout: 100 * time.Millisecond, wantKind: types.RemoteTimeout, wantCode: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := runner.Run(context.Background(), target, tt.command, tt.timeout)
			assert.Equal(t, tt.wantCode, res.ExitCode)
			if tt.stdout != "" {
				assert.Equal(t, tt.stdout, res.Stdout)
			}
			if tt.stderr != "" {
				assert.Equal(t, tt.stderr, res.Stderr)
			}

			if tt.wantKind == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrRemoteExecution)

			var rerr *types.RemoteExecutionError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.wantKind, rerr.Kind)
			assert.Equal(t, "camera:2201", rerr.Target)
			assert.Equal(t, tt.command, rerr.Command)
		})
	}
}

func TestExecRunnerLaunchFailure(t *testing.T) {
	runner := NewExecRunner(filepath.Join(t.TempDir(), "missing-ssh"), nil, zerolog.Nop())

	_, err := runner.Run(context.Background(), Target{Host: "camera", Port: 22}, "true", time.Second)
	var rerr *types.RemoteExecutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, types.RemoteLaunch, rerr.Kind)
	assert.False(t, types.IsTimeout(err))
}

func TestExecRunnerArgs(t *testing.T) {
	runner := NewExecRunner("", nil, zerolog.Nop())
	args := runner.args(Target{Host: "camera", Port: 2201}, "sudo /sbin/reboot")

	assert.Equal(t, []string{
		"-p", "2201",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		"camera", "sudo /sbin/reboot",
	}, args)
	assert.Equal(t, "ssh", runner.binary)
}

func TestNewDriverSelection(t *testing.T) {
	r, err := New(Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ExecRunner{}, r)

	_, err = New(Config{Driver: "telnet"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Config{Driver: DriverNative}, zerolog.Nop())
	assert.Error(t, err, "native driver without host key policy")

	r, err = New(Config{Driver: DriverNative, InsecureIgnoreHostKey: true, Password: "secret"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &NativeRunner{}, r)
}
