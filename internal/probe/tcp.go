// Package probe checks whether a device endpoint accepts TCP connections.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

// DefaultTimeout bounds a single reachability check
const DefaultTimeout = 2 * time.Second

// Reachable dials the host:port found in an alert's instance label. A
// refused or timed out dial is reported as unreachable, not as an error;
// only a malformed instance is an error.
func Reachable(ctx context.Context, instance string, timeout time.Duration) (bool, error) {
	host, port, err := net.SplitHostPort(instance)
	if err != nil {
		return false, &types.FormatError{Field: "instance", Value: instance, Reason: "must be host:port"}
	}
	if host == "" {
		return false, &types.FormatError{Field: "instance", Value: instance, Reason: "missing host"}
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return false, &types.FormatError{Field: "instance", Value: instance, Reason: "port must be 1..65535"}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return false, nil
	}
	conn.Close()
	return true, nil
}

// ReachableAlert probes the instance label of alert
func ReachableAlert(ctx context.Context, alert types.Alert, timeout time.Duration) (bool, error) {
	return Reachable(ctx, alert.Label(types.LabelInstance), timeout)
}
