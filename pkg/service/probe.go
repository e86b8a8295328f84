package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultHost is the interface published container ports are bound to.
const DefaultHost = "127.0.0.1"

// DefaultPollInterval is the delay between readiness attempts used by [Poll] when interval is
// zero.
const DefaultPollInterval = 500 * time.Millisecond

// ErrNotReady is returned by readiness checks that reached the service but found it not yet
// accepting work.
var ErrNotReady = errors.New("service not ready")

// FreePort asks the kernel for a free TCP port on [DefaultHost].
func FreePort() (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(DefaultHost, "0"))
	if err != nil {
		return 0, fmt.Errorf("allocate free port: %w", err)
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("allocate free port: unexpected address %s", l.Addr())
	}
	return addr.Port, nil
}

// Address returns host:port for a published port.
func Address(port int) string {
	return net.JoinHostPort(DefaultHost, strconv.Itoa(port))
}

// Poll calls check at a constant interval until it succeeds, returning true, or until ctx is
// done, returning false with no error. Every error from check is retried; the last one is
// returned alongside false when ctx ends, so callers can report why the service never came up.
func Poll(ctx context.Context, interval time.Duration, check func(ctx context.Context) error) (bool, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var last error
	err := retry.Do(ctx, retry.NewConstant(interval), func(ctx context.Context) error {
		if err := check(ctx); err != nil {
			last = err
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, last
	}
	return false, err
}

// DialTCP reports whether something accepts TCP connections on address.
func DialTCP(ctx context.Context, address string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}
