package types

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the error taxonomy
var (
	ErrTransport       = errors.New("transport error")
	ErrRemoteExecution = errors.New("remote execution error")
	ErrFormat          = errors.New("format error")
)

// TransportError is returned when the alerting backend is unreachable,
// answers with a non-2xx status, or sends a body that cannot be decoded.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RemoteErrorKind classifies a remote command failure.
type RemoteErrorKind string

const (
	RemoteLaunch  RemoteErrorKind = "launch"
	RemoteExit    RemoteErrorKind = "exit"
	RemoteTimeout RemoteErrorKind = "timeout"
)

// RemoteExecutionError describes a failed remote command.
type RemoteExecutionError struct {
	Kind     RemoteErrorKind
	Target   string
	Command  string
	ExitCode int
	Err      error
}

func (e *RemoteExecutionError) Error() string {
	switch e.Kind {
	case RemoteExit:
		return fmt.Sprintf("remote command %q on %s exited with %d", e.Command, e.Target, e.ExitCode)
	case RemoteTimeout:
		return fmt.Sprintf("remote command %q on %s timed out", e.Command, e.Target)
	default:
		return fmt.Sprintf("remote command %q on %s: %v", e.Command, e.Target, e.Err)
	}
}

func (e *RemoteExecutionError) Unwrap() error { return e.Err }

func (e *RemoteExecutionError) Is(target error) bool { return target == ErrRemoteExecution }

// IsTimeout reports whether err is a remote command timeout.
func IsTimeout(err error) bool {
	var rerr *RemoteExecutionError
	return errors.As(err, &rerr) && rerr.Kind == RemoteTimeout
}

// FormatError rejects malformed input at the validation boundary, before any
// remote action is taken.
type FormatError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }
