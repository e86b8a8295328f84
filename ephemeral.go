package ephemeral

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/pressly/ephemeral/internal/lifecycle"
	"github.com/pressly/ephemeral/pkg/dockermanage"
	"github.com/pressly/ephemeral/pkg/service"
)

// ConnectionData holds the values needed to connect to a running service.
type ConnectionData = service.ConnectionData

// Body is the test code run once the service is ready. A returned error or a panic fails the
// run after the container has been torn down.
type Body = lifecycle.Body

// Outcome is the single result of a run.
type Outcome = lifecycle.Outcome

// Status is the kind of an Outcome.
type Status = lifecycle.Status

const (
	Succeeded = lifecycle.Succeeded
	Skipped   = lifecycle.Skipped
	Failed    = lifecycle.Failed
)

// PanicError is the failure reported when the body panics.
type PanicError = lifecycle.PanicError

// Run starts the service registered as serviceID, runs body against it once it is ready, tears
// the container down and reports the outcome exactly once to the configured reporter.
//
// Environment problems (unknown service, no docker, image not found, slow startup) produce a
// Skipped outcome. Only an error or panic from body produces Failed. The outcome is also
// returned, unless the reporter ends the calling goroutine, as testing.TB's Skip and Fatal do.
func Run(ctx context.Context, serviceID string, body Body, opts ...Option) Outcome {
	cfg, optErr := newConfig(opts)
	env, envErr := loadEnv(os.Getenv)
	logger := cfg.logger
	if logger == nil {
		logger = env.logger()
	}
	reporter := cfg.reporter
	if reporter == nil {
		reporter = NewLogReporter(logger)
	}
	var out Outcome
	switch {
	case optErr != nil:
		out = lifecycle.Skip(fmt.Sprintf("Invalid options for test service %s: %v", serviceID, optErr))
	case envErr != nil:
		out = lifecycle.Skip(fmt.Sprintf("Invalid environment for test service %s: %v", serviceID, envErr))
	default:
		out = run(ctx, serviceID, body, cfg, env, reporter, logger)
	}
	lifecycle.Report(reporter, out)
	return out
}

func run(
	ctx context.Context,
	serviceID string,
	body Body,
	cfg *config,
	env envConfig,
	reporter Reporter,
	logger *slog.Logger,
) Outcome {
	spec, err := service.Lookup(serviceID, cfg.serviceOptions)
	if err != nil {
		return lifecycle.Skip(fmt.Sprintf("Could not configure test service %s: %v", serviceID, err))
	}
	rt := cfg.runtime
	if rt == nil {
		created, err := env.newRuntime(logger)
		if err != nil {
			return lifecycle.Skip(fmt.Sprintf("Could not create container runtime: %v", err))
		}
		if closer, ok := created.(io.Closer); ok {
			defer func() {
				if err := closer.Close(); err != nil {
					logger.Debug("close container runtime", slog.Any("error", err))
				}
			}()
		}
		rt = created
	}
	orch, err := lifecycle.New(lifecycle.Config{
		Runtime:      rt,
		Reporter:     reporter,
		Logger:       logger,
		PullPolicy:   firstNonEmpty(cfg.pullPolicy, env.pullPolicy),
		ReadyTimeout: firstPositive(cfg.readyTimeout, env.readyTimeout),
		StopTimeout:  cfg.stopTimeout,
		StdoutHook:   cfg.stdoutHook,
	})
	if err != nil {
		return lifecycle.Skip(fmt.Sprintf("Could not configure test service %s: %v", serviceID, err))
	}
	name := cfg.runName
	if name == "" {
		name = NewRunName(serviceID)
	}
	return orch.Run(ctx, lifecycle.Request{
		Service: serviceID,
		Spec:    spec,
		Tag:     cfg.tag,
		Name:    name,
		Body:    body,
	})
}

// RunT is Run bound to a test: the run uses t.Context(), reports to t (Skip, Log, Fatal) and
// passes t's failure state through to the caller. Options may still override the reporter.
func RunT(t testing.TB, serviceID string, body Body, opts ...Option) {
	t.Helper()
	opts = append([]Option{WithReporter(TB(t))}, opts...)
	Run(t.Context(), serviceID, body, opts...)
}

// Prune removes every container left behind by earlier runs, for example after a killed test
// binary. It returns how many containers were removed.
func Prune(ctx context.Context, opts ...Option) (int, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return 0, err
	}
	env, err := loadEnv(os.Getenv)
	if err != nil {
		return 0, err
	}
	logger := cfg.logger
	if logger == nil {
		logger = env.logger()
	}
	rt := cfg.runtime
	if rt == nil {
		created, err := env.newRuntime(logger)
		if err != nil {
			return 0, err
		}
		if closer, ok := created.(io.Closer); ok {
			defer closer.Close()
		}
		rt = created
	}
	pruner, ok := rt.(dockermanage.Pruner)
	if !ok {
		return 0, fmt.Errorf("runtime %T cannot remove managed containers", rt)
	}
	return pruner.RemoveManaged(ctx)
}

func firstNonEmpty[T ~string](values ...T) T {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive[T ~int64](values ...T) T {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
