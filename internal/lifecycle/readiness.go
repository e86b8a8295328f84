package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReadyTimeout bounds how long a service may take to become ready.
const DefaultReadyTimeout = 60 * time.Second

// Readiness is the resolution of a readiness race.
type Readiness int

const (
	// Ready means the probe resolved true before the deadline.
	Ready Readiness = iota + 1
	// TimedOut means the deadline elapsed first.
	TimedOut
	// Exited means the container stopped while the race was pending.
	Exited
	// Canceled means the caller's context ended first.
	Canceled
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	case Exited:
		return "exited"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Prober is the readiness predicate of a service.
type Prober interface {
	IsReady(ctx context.Context, containerName string) (bool, error)
}

// ReadinessGate races a single probe attempt against a deadline.
type ReadinessGate struct {
	timeout time.Duration
	diag    *Diagnostics
	logger  *slog.Logger
}

// NewReadinessGate returns a gate with the given deadline. A non-positive timeout uses
// DefaultReadyTimeout.
func NewReadinessGate(timeout time.Duration, diag *Diagnostics, logger *slog.Logger) *ReadinessGate {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	return &ReadinessGate{
		timeout: timeout,
		diag:    diag,
		logger:  logger.With(slog.String("logger", "readiness")),
	}
}

type probeResult struct {
	ready bool
	err   error
}

// Await invokes probe once and resolves to the first of: the probe reporting ready, the
// deadline, the container exiting, or ctx ending. A probe that resolves false does not end the
// race; the deadline still decides. A true result that arrives once the deadline has passed
// counts as timed out, and whatever the probe yields after Await returns is discarded.
func (g *ReadinessGate) Await(ctx context.Context, probe Prober, h *Handle) Readiness {
	probeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Buffered so a late result never blocks the abandoned probe goroutine.
	results := make(chan probeResult, 1)
	go func() {
		ready, err := probe.IsReady(probeCtx, h.Name)
		results <- probeResult{ready: ready, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			g.diag.Sendf("readiness probe for %s: %v", h.Name, r.err)
		}
		if r.ready && probeCtx.Err() == nil {
			g.logger.Debug("service ready", slog.String("container", h.Name))
			return Ready
		}
		// Not ready but resolved early: hold until the deadline or an exit.
		select {
		case <-h.Exited():
			return Exited
		case <-probeCtx.Done():
			return g.expired(ctx)
		}
	case <-h.Exited():
		return Exited
	case <-probeCtx.Done():
		return g.expired(ctx)
	}
}

func (g *ReadinessGate) expired(ctx context.Context) Readiness {
	if ctx.Err() != nil {
		return Canceled
	}
	g.logger.Debug("readiness deadline elapsed", slog.Duration("timeout", g.timeout))
	return TimedOut
}
