// Package lifecycle runs one service container through pull, start, readiness, the test body and
// teardown, and turns every way that can end into a single Outcome.
//
// Infrastructure problems (no image, no docker daemon, a service that is too slow) become a
// Skipped outcome. Only an error or panic raised by the test body becomes Failed, and it is
// surfaced after the container has been torn down.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pressly/ephemeral/pkg/dockermanage"
	"github.com/pressly/ephemeral/pkg/service"
)

// DefaultDrainTimeout bounds how long a finished run waits for output streams to close.
const DefaultDrainTimeout = 10 * time.Second

// Config configures an Orchestrator.
type Config struct {
	// Runtime is required.
	Runtime dockermanage.Runtime
	// Reporter receives diagnostics while a run is in progress. The final outcome is returned,
	// not reported. Optional.
	Reporter Reporter
	// Logger defaults to a discard logger.
	Logger *slog.Logger

	PullPolicy   PullPolicy
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	DrainTimeout time.Duration

	// StdoutHook receives container stdout lines. They are discarded when nil.
	StdoutHook func(line string)
	// OnPhase is called synchronously on every phase transition.
	OnPhase func(Phase)
}

// Request describes a single run.
type Request struct {
	// Service names the service for labels and messages.
	Service string
	Spec    service.Spec
	// Tag overrides Spec.DefaultTag when non-empty.
	Tag string
	// Name is the container name. It must be unique among concurrent runs.
	Name string
	Body Body
}

func (r Request) validate() error {
	if r.Spec == nil {
		return errors.New("service spec must not be nil")
	}
	if r.Name == "" {
		return errors.New("container name must not be empty")
	}
	if r.Body == nil {
		return errors.New("test body must not be nil")
	}
	return nil
}

// Image returns the image reference the request runs.
func (r Request) Image() string {
	tag := r.Tag
	if tag == "" {
		tag = r.Spec.DefaultTag()
	}
	if tag == "" {
		return r.Spec.ImageName()
	}
	return r.Spec.ImageName() + ":" + tag
}

// Orchestrator composes the lifecycle components. It is safe for concurrent runs as long as
// each uses a distinct container name.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New returns an Orchestrator for cfg.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("lifecycle: runtime must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if _, err := ParsePullPolicy(string(cfg.PullPolicy)); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("logger", "lifecycle")),
	}, nil
}

// Run executes req and returns its outcome. Teardown has completed by the time Run returns
// whenever a container was started. If the body exits its goroutine (t.FailNow), teardown still
// runs on the way out.
func (o *Orchestrator) Run(ctx context.Context, req Request) Outcome {
	if err := req.validate(); err != nil {
		return o.finish(nil, req, Skip(fmt.Sprintf("Invalid test service request: %v", err)))
	}
	diag := NewDiagnostics(o.cfg.Reporter)
	defer diag.Close()

	image := req.Image()
	o.transition(nil, req, PhasePullingImage)
	puller := NewImagePuller(o.cfg.Runtime, o.cfg.PullPolicy, o.cfg.Logger)
	if err := puller.Ensure(ctx, image); err != nil {
		reason := fmt.Sprintf("Could not obtain container image %s: %v", image, err)
		diag.Send(reason)
		return o.finish(nil, req, Skip(reason))
	}

	o.transition(nil, req, PhaseStartingContainer)
	supervisor := NewContainerSupervisor(o.cfg.Runtime, diag, o.cfg.StdoutHook, o.cfg.Logger)
	h, err := supervisor.Start(ctx, dockermanage.RunRequest{
		Image:   image,
		Name:    req.Name,
		Options: req.Spec.ContainerOptions(),
		Command: req.Spec.CommandAndArgs(),
		Labels:  map[string]string{dockermanage.ManagedLabelKey: req.Service},
	})
	if err != nil {
		return o.finish(nil, req, Skip(fmt.Sprintf("Failed to run test service container %s: %v", req.Name, err)))
	}

	var guard TeardownGuard
	teardown := NewTeardown(o.cfg.Runtime, o.cfg.StopTimeout, o.cfg.Logger)
	tearDown := func() {
		guard.Fire(func() {
			o.transition(h, req, PhaseTearingDown)
			if err := teardown.Run(ctx, h); err != nil {
				diag.Sendf("teardown of container %s: %v", h.Name, err)
			}
		})
	}
	needsTeardown := true
	defer func() {
		if needsTeardown {
			tearDown()
		}
		if err := h.Wait(o.cfg.DrainTimeout); err != nil {
			o.logger.Debug("container did not finish", slog.String("container", h.Name), slog.Any("error", err))
		}
	}()

	outcome, started := o.supervise(ctx, req, h, diag)
	if started {
		tearDown()
	} else {
		needsTeardown = false
	}
	return o.finish(h, req, outcome)
}

// supervise drives the handle from start to the end of the body. started is false when the
// process exited before it was ever confirmed running.
func (o *Orchestrator) supervise(ctx context.Context, req Request, h *Handle, diag *Diagnostics) (_ Outcome, started bool) {
	select {
	case <-h.Started():
	case <-h.Exited():
		if !h.hasStarted() {
			if err := h.Process.Err(); err != nil {
				diag.Sendf("container %s exited: %v", h.Name, err)
			}
			return Skip(fmt.Sprintf("Failed to run test service container %s: failed before starting tests", h.Name)), false
		}
	case <-ctx.Done():
		return Skip(fmt.Sprintf("Failed to run test service container %s: %v", h.Name, ctx.Err())), true
	}
	// Started and Exited may both be closed; the probe must not run against a dead container.
	select {
	case <-h.Exited():
		return exitedBeforeReady(h), true
	default:
	}

	o.transition(h, req, PhaseAwaitingReady)
	gate := NewReadinessGate(o.cfg.ReadyTimeout, diag, o.cfg.Logger)
	switch gate.Await(ctx, req.Spec, h) {
	case Ready:
	case TimedOut:
		return Skip(fmt.Sprintf("Test service container %s did not become ready in time", h.Name)), true
	case Exited:
		return exitedBeforeReady(h), true
	default:
		return Skip(fmt.Sprintf("Test service container %s: %v", h.Name, context.Cause(ctx))), true
	}

	o.transition(h, req, PhaseRunningBody)
	if err := runBody(ctx, req.Body, req.Spec.ConnectionData()); err != nil {
		return Fail(err), true
	}
	return Success(), true
}

func exitedBeforeReady(h *Handle) Outcome {
	reason := fmt.Sprintf("Test service container %s exited before becoming ready", h.Name)
	if err := h.Process.Err(); err != nil {
		reason += ": " + err.Error()
	}
	return Skip(reason)
}

func (o *Orchestrator) transition(h *Handle, req Request, p Phase) {
	if h != nil {
		h.setPhase(p)
	}
	o.logger.Debug("phase",
		slog.String("phase", p.String()),
		slog.String("service", req.Service),
		slog.String("container", req.Name),
	)
	if o.cfg.OnPhase != nil {
		o.cfg.OnPhase(p)
	}
}

func (o *Orchestrator) finish(h *Handle, req Request, out Outcome) Outcome {
	switch out.Status {
	case Succeeded:
		o.transition(h, req, PhaseDone)
	case Skipped:
		o.transition(h, req, PhaseSkipped)
		o.logger.Info("test service skipped", slog.String("container", req.Name), slog.String("reason", out.Reason))
	case Failed:
		o.transition(h, req, PhaseFailed)
	}
	return out
}
