package lifecycle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pressly/ephemeral/pkg/dockermanage"
	"golang.org/x/sync/errgroup"
)

// Handle owns one started container process.
type Handle struct {
	Name    string
	Process dockermanage.Process

	phase  atomic.Int32
	drains errgroup.Group
	done   chan struct{}
}

// Phase returns the phase of the run that owns the container.
func (h *Handle) Phase() Phase { return Phase(h.phase.Load()) }

func (h *Handle) setPhase(p Phase) { h.phase.Store(int32(p)) }

func (h *Handle) Started() <-chan struct{} { return h.Process.Started() }
func (h *Handle) Exited() <-chan struct{} { return h.Process.Exited() }

// hasStarted reports whether the started signal has been observed.
func (h *Handle) hasStarted() bool {
	select {
	case <-h.Process.Started():
		return true
	default:
		return false
	}
}

// Wait blocks until both output streams are drained and the process has exited, or until
// timeout elapses.
func (h *Handle) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		return fmt.Errorf("container %s: output still open after %s", h.Name, timeout)
	}
	select {
	case <-h.Process.Exited():
		return nil
	case <-timer.C:
		return fmt.Errorf("container %s: process still running after %s", h.Name, timeout)
	}
}

// Diagnostics forwards messages to a Reporter until closed. Messages sent after Close are
// dropped, so nothing reaches the reporter once the run has finished.
type Diagnostics struct {
	mu       sync.Mutex
	reporter Reporter
	closed   bool
}

// NewDiagnostics returns an open forwarder to r. A nil r drops everything.
func NewDiagnostics(r Reporter) *Diagnostics {
	return &Diagnostics{reporter: r}
}

// Send forwards message unless the forwarder is closed.
func (d *Diagnostics) Send(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.reporter == nil {
		return
	}
	d.reporter.Diagnostic(message)
}

// Sendf formats and forwards a message.
func (d *Diagnostics) Sendf(format string, args ...any) {
	d.Send(fmt.Sprintf(format, args...))
}

// Gate wraps fn so that it is called under the same closed flag as Send: once Close returns, the
// wrapped function never calls fn again. A nil fn yields a function that drops every line.
func (d *Diagnostics) Gate(fn func(string)) func(string) {
	return func(message string) {
		if fn == nil {
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return
		}
		fn(message)
	}
}

// Close stops forwarding. When Close returns no further message reaches the reporter.
func (d *Diagnostics) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// ContainerSupervisor starts a container and drains its output for as long as it runs.
type ContainerSupervisor struct {
	runtime    dockermanage.Runtime
	diag       *Diagnostics
	stdoutHook func(line string)
	logger     *slog.Logger
}

// NewContainerSupervisor returns a supervisor forwarding stderr lines to diag. Stdout lines go
// to stdoutHook when it is non-nil and are discarded otherwise. Neither is called after diag is
// closed.
func NewContainerSupervisor(
	runtime dockermanage.Runtime,
	diag *Diagnostics,
	stdoutHook func(line string),
	logger *slog.Logger,
) *ContainerSupervisor {
	return &ContainerSupervisor{
		runtime:    runtime,
		diag:       diag,
		stdoutHook: stdoutHook,
		logger:     logger.With(slog.String("logger", "supervisor")),
	}
}

// Start launches exactly one container for req. The returned handle has not necessarily reached
// the started signal yet.
func (s *ContainerSupervisor) Start(ctx context.Context, req dockermanage.RunRequest) (*Handle, error) {
	proc, err := s.runtime.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		Name:    req.Name,
		Process: proc,
		done:    make(chan struct{}),
	}
	h.setPhase(PhaseStartingContainer)
	stdout := s.diag.Gate(s.stdoutHook)
	h.drains.Go(func() error { return drainLines(proc.Stdout(), stdout) })
	h.drains.Go(func() error { return drainLines(proc.Stderr(), s.diag.Send) })
	go func() {
		if err := h.drains.Wait(); err != nil {
			s.logger.Debug("output drain ended", slog.String("container", h.Name), slog.Any("error", err))
		}
		close(h.done)
	}()
	s.logger.Debug("container process launched", slog.String("container", h.Name), slog.String("image", req.Image))
	return h, nil
}

// drainLines reads r until EOF and calls fn for every line, without its line ending.
func drainLines(r io.Reader, fn func(string)) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			fn(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}
