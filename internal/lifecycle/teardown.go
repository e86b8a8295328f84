package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/ephemeral/pkg/dockermanage"
	"go.uber.org/multierr"
)

// DefaultStopTimeout bounds the graceful stop request.
const DefaultStopTimeout = 30 * time.Second

// Teardown stops a container by name and then kills the local process handle.
type Teardown struct {
	runtime dockermanage.Runtime
	timeout time.Duration
	logger  *slog.Logger
}

// NewTeardown returns a Teardown whose stop request is bounded by timeout.
func NewTeardown(runtime dockermanage.Runtime, timeout time.Duration, logger *slog.Logger) *Teardown {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	return &Teardown{
		runtime: runtime,
		timeout: timeout,
		logger:  logger.With(slog.String("logger", "teardown")),
	}
}

// Run issues stop followed by kill. Both are attempted even if the first fails, and neither is
// an error when the container already exited. ctx only carries values: a canceled ctx does not
// prevent cleanup.
func (t *Teardown) Run(ctx context.Context, h *Handle) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	var err error
	if stopErr := t.runtime.Stop(ctx, h.Name); stopErr != nil {
		err = multierr.Append(err, fmt.Errorf("stop: %w", stopErr))
	}
	if killErr := h.Process.Kill(); killErr != nil {
		err = multierr.Append(err, fmt.Errorf("kill: %w", killErr))
	}
	if err != nil {
		t.logger.Warn("teardown incomplete", slog.String("container", h.Name), slog.Any("error", err))
		return err
	}
	t.logger.Debug("container torn down", slog.String("container", h.Name))
	return nil
}
