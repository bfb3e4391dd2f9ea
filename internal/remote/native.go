package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

// NativeRunner speaks SSH in-process. It opens one connection per command
// and tears it down afterwards so no sessions linger on the device.
type NativeRunner struct {
	clientConfig *ssh.ClientConfig
	dialTimeout  time.Duration
	logger       zerolog.Logger
}

// NewNativeRunner prepares auth and host key checking from cfg
func NewNativeRunner(cfg Config, logger zerolog.Logger) (*NativeRunner, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	return &NativeRunner{
		clientConfig: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         dialTimeout,
		},
		dialTimeout: dialTimeout,
		logger:      logger.With().Str("component", "remote-native").Logger(),
	}, nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	return methods, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if cfg.KnownHostsFile == "" {
		return nil, errors.New("known_hosts file required unless host key checking is disabled")
	}
	cb, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

// Run dials the target, runs command in a fresh session and waits at most
// timeout for it to exit.
func (r *NativeRunner) Run(ctx context.Context, target Target, command string, timeout time.Duration) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := target.String()
	fail := func(kind types.RemoteErrorKind, code int, err error) (Result, error) {
		return Result{ExitCode: code}, &types.RemoteExecutionError{
			Kind:     kind,
			Target:   addr,
			Command:  command,
			ExitCode: code,
			Err:      err,
		}
	}

	client, err := r.dial(runCtx, addr)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fail(types.RemoteTimeout, -1, err)
		}
		return fail(types.RemoteLaunch, -1, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fail(types.RemoteLaunch, -1, fmt.Errorf("open session: %w", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	r.logger.Debug().
		Str("target", addr).
		Str("command", command).
		Dur("timeout", timeout).
		Msg("Running remote command")

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-runCtx.Done():
		// Best effort; many sshd builds ignore signals.
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		client.Close()
		if ctx.Err() != nil {
			return fail(types.RemoteLaunch, -1, ctx.Err())
		}
		return fail(types.RemoteTimeout, -1, runCtx.Err())
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, &types.RemoteExecutionError{
			Kind:     types.RemoteExit,
			Target:   addr,
			Command:  command,
			ExitCode: res.ExitCode,
			Err:      err,
		}
	}
	res.ExitCode = -1
	return res, &types.RemoteExecutionError{
		Kind:     types.RemoteLaunch,
		Target:   addr,
		Command:  command,
		ExitCode: -1,
		Err:      err,
	}
}

func (r *NativeRunner) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: r.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The handshake has no context of its own.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, r.clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
