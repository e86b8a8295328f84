package ephemeral

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/ephemeral/internal/lifecycle"
	"github.com/pressly/ephemeral/pkg/dockermanage"
)

// Environment variables read by Run, Prune and WrapTestMain. Explicit options take precedence.
const (
	// EnvRuntime selects the container runtime: "cli" (default) or "engine".
	EnvRuntime = "EPHEMERAL_RUNTIME"
	// EnvDocker is the docker binary used by the cli runtime.
	EnvDocker = "EPHEMERAL_DOCKER"
	// EnvReadyTimeout is the readiness deadline, as a Go duration.
	EnvReadyTimeout = "EPHEMERAL_READY_TIMEOUT"
	// EnvPull is the pull policy: "always" or "missing".
	EnvPull = "EPHEMERAL_PULL"
	// EnvDebug enables debug logging to stderr.
	EnvDebug = "EPHEMERAL_DEBUG"
	// EnvBlock makes WrapTestMain wait for a signal before exiting.
	EnvBlock = "EPHEMERAL_BLOCK"
	// EnvNoPrune makes WrapTestMain leave managed containers in place.
	EnvNoPrune = "EPHEMERAL_NOPRUNE"
)

const (
	RuntimeCLI    = "cli"
	RuntimeEngine = "engine"
)

type envConfig struct {
	runtime      string
	docker       string
	readyTimeout time.Duration
	pullPolicy   lifecycle.PullPolicy
	debug        bool
	block        bool
	noPrune      bool
}

func loadEnv(getenv func(string) string) (envConfig, error) {
	env := envConfig{
		runtime: RuntimeCLI,
		docker:  dockermanage.DefaultBinary,
	}
	var errs []error
	if v := strings.TrimSpace(getenv(EnvRuntime)); v != "" {
		switch v {
		case RuntimeCLI, RuntimeEngine:
			env.runtime = v
		default:
			errs = append(errs, fmt.Errorf("%s: unknown runtime %q: must be %q or %q", EnvRuntime, v, RuntimeCLI, RuntimeEngine))
		}
	}
	if v := strings.TrimSpace(getenv(EnvDocker)); v != "" {
		env.docker = v
	}
	if v := strings.TrimSpace(getenv(EnvReadyTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", EnvReadyTimeout, err))
		case d <= 0:
			errs = append(errs, fmt.Errorf("%s: must be positive: %s", EnvReadyTimeout, d))
		default:
			env.readyTimeout = d
		}
	}
	if v := strings.TrimSpace(getenv(EnvPull)); v != "" {
		p, err := lifecycle.ParsePullPolicy(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvPull, err))
		}
		env.pullPolicy = p
	}
	env.debug = envIsTrue(getenv, EnvDebug)
	env.block = envIsTrue(getenv, EnvBlock)
	env.noPrune = envIsTrue(getenv, EnvNoPrune)
	return env, errors.Join(errs...)
}

func envIsTrue(getenv func(string) string, key string) bool {
	b, err := strconv.ParseBool(getenv(key))
	return err == nil && b
}

func (e envConfig) logger() *slog.Logger {
	if !e.debug {
		return discardLogger()
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (e envConfig) newRuntime(logger *slog.Logger) (dockermanage.Runtime, error) {
	switch e.runtime {
	case RuntimeEngine:
		return dockermanage.NewManager(dockermanage.WithLogger(logger))
	default:
		return dockermanage.NewCLI(
			dockermanage.WithBinary(e.docker),
			dockermanage.WithLogger(logger),
		)
	}
}
