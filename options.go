package ephemeral

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/pressly/ephemeral/internal/lifecycle"
	"github.com/pressly/ephemeral/pkg/dockermanage"
	"github.com/pressly/ephemeral/pkg/service"
)

// Option configures a run.
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(cfg *config) error {
	return f(cfg)
}

type config struct {
	tag            string
	serviceOptions service.Options
	reporter       Reporter
	runtime        dockermanage.Runtime
	readyTimeout   time.Duration
	stopTimeout    time.Duration
	runName        string
	logger         *slog.Logger
	pullPolicy     lifecycle.PullPolicy
	stdoutHook     func(string)
}

// newConfig applies every option, even after one fails, so a valid reporter still receives the
// failure of an invalid one.
func newConfig(opts []Option) (*config, error) {
	cfg := &config{serviceOptions: service.Options{}}
	var errs []error
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return cfg, errors.Join(errs...)
}

// WithTag runs tag instead of the service's default tag.
func WithTag(tag string) Option {
	return optionFunc(func(cfg *config) error {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return errors.New("tag must not be empty")
		}
		cfg.tag = tag
		return nil
	})
}

// WithServiceOptions passes settings to the service, such as "user" or "password". Each service
// package documents the keys it reads. Repeated calls merge, later values winning.
func WithServiceOptions(opts map[string]string) Option {
	return optionFunc(func(cfg *config) error {
		for key := range opts {
			if strings.TrimSpace(key) == "" {
				return errors.New("service option key must not be empty")
			}
		}
		maps.Copy(cfg.serviceOptions, opts)
		return nil
	})
}

// WithReporter sets where the outcome and diagnostics are reported. The default logs them.
func WithReporter(r Reporter) Option {
	return optionFunc(func(cfg *config) error {
		if r == nil {
			return errors.New("reporter must not be nil")
		}
		cfg.reporter = r
		return nil
	})
}

// WithRuntime sets the container runtime. The default is chosen by EPHEMERAL_RUNTIME.
func WithRuntime(rt dockermanage.Runtime) Option {
	return optionFunc(func(cfg *config) error {
		if rt == nil {
			return errors.New("runtime must not be nil")
		}
		cfg.runtime = rt
		return nil
	})
}

// WithTimeout bounds how long the service may take to become ready. The default is 60s, or
// EPHEMERAL_READY_TIMEOUT when set.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive: %s", d)
		}
		cfg.readyTimeout = d
		return nil
	})
}

// WithStopTimeout bounds the graceful stop issued during teardown.
func WithStopTimeout(d time.Duration) Option {
	return optionFunc(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("stop timeout must be positive: %s", d)
		}
		cfg.stopTimeout = d
		return nil
	})
}

// WithRunName sets the container name. It must be unique among concurrent runs; the default is
// generated per run.
func WithRunName(name string) Option {
	return optionFunc(func(cfg *config) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("run name must not be empty")
		}
		if !validContainerName(name) {
			return fmt.Errorf("invalid container name %q", name)
		}
		cfg.runName = name
		return nil
	})
}

// WithLogger sets the logger for the run. The default discards, unless EPHEMERAL_DEBUG is true.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(cfg *config) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		cfg.logger = logger
		return nil
	})
}

// WithPullPolicy sets whether the image is pulled on every run ("always", the default) or only
// when missing locally ("missing").
func WithPullPolicy(policy string) Option {
	return optionFunc(func(cfg *config) error {
		p, err := lifecycle.ParsePullPolicy(policy)
		if err != nil {
			return err
		}
		cfg.pullPolicy = p
		return nil
	})
}

// WithStdoutHook receives every line the container writes to stdout. By default stdout is
// drained and discarded. The hook runs on a separate goroutine and must not block.
func WithStdoutHook(fn func(line string)) Option {
	return optionFunc(func(cfg *config) error {
		if fn == nil {
			return errors.New("stdout hook must not be nil")
		}
		cfg.stdoutHook = fn
		return nil
	})
}
