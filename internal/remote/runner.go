// Package remote runs shell commands on field devices over SSH.
package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

//go:generate mockgen -destination=mock_runner.go -package=remote github.com/fieldtriage/fieldtriage/internal/remote CommandRunner

const (
	DriverExec   = "exec"
	DriverNative = "native"

	defaultDialTimeout = 10 * time.Second
)

// Target addresses one device. Devices share a jump host alias and are told
// apart by port.
type Target struct {
	Host string
	Port int
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Result holds what a finished command produced
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandRunner executes a single command on a target. Every call carries
// its own timeout; on expiry the command is abandoned and a timeout
// *types.RemoteExecutionError is returned.
type CommandRunner interface {
	Run(ctx context.Context, target Target, command string, timeout time.Duration) (Result, error)
}

// Config selects and configures a transport
type Config struct {
	Driver string

	// exec driver
	Binary  string
	Options []string

	// native driver
	User                  string
	KeyFile               string
	Password              string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration
}

// New builds the runner named by cfg.Driver. An empty driver means exec.
func New(cfg Config, logger zerolog.Logger) (CommandRunner, error) {
	switch cfg.Driver {
	case "", DriverExec:
		return NewExecRunner(cfg.Binary, cfg.Options, logger), nil
	case DriverNative:
		return NewNativeRunner(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
	}
}
