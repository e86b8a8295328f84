package dockermanage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultBinary is the docker executable used by the CLI runtime.
	DefaultBinary = "docker"

	defaultStartPollInterval = 100 * time.Millisecond
)

// Option configures a runtime.
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(cfg *config) error {
	return f(cfg)
}

type config struct {
	binary            string
	logger            *slog.Logger
	pullProgress      io.Writer
	startPollInterval time.Duration
}

func defaultConfig() *config {
	return &config{
		binary:            DefaultBinary,
		startPollInterval: defaultStartPollInterval,
	}
}

func newConfig(options []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.pullProgress == nil {
		cfg.pullProgress = io.Discard
	}
	return cfg, nil
}

// WithBinary sets the docker executable used by the CLI runtime. Defaults to "docker" resolved
// through PATH.
func WithBinary(binary string) Option {
	return optionFunc(func(cfg *config) error {
		binary = strings.TrimSpace(binary)
		if binary == "" {
			return errors.New("docker binary must not be empty")
		}
		cfg.binary = binary
		return nil
	})
}

// WithLogger sets the logger. Defaults to discarding all output.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(cfg *config) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		cfg.logger = logger
		return nil
	})
}

// WithPullProgress sets where image pull output is streamed. Defaults to discarding it.
func WithPullProgress(w io.Writer) Option {
	return optionFunc(func(cfg *config) error {
		cfg.pullProgress = w
		return nil
	})
}

// WithStartPollInterval sets how often a freshly run container is inspected until it is
// confirmed running. Defaults to 100ms.
func WithStartPollInterval(d time.Duration) Option {
	return optionFunc(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("start poll interval must be positive: %v", d)
		}
		cfg.startPollInterval = d
		return nil
	})
}
