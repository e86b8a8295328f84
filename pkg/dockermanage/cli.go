package dockermanage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

var (
	errNotRunning       = errors.New("container is not running yet")
	errForeignContainer = errors.New("container name belongs to another run")
)

// CLI is a [Runtime] backed by the docker command line.
type CLI struct {
	binary            string
	logger            *slog.Logger
	pullProgress      io.Writer
	startPollInterval time.Duration
}

var (
	_ Runtime = (*CLI)(nil)
	_ Pruner  = (*CLI)(nil)
)

// NewCLI creates a CLI runtime. It does not check that the docker binary exists; a missing
// binary surfaces as a pull or run error.
func NewCLI(options ...Option) (*CLI, error) {
	cfg, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	return &CLI{
		binary:            cfg.binary,
		logger:            cfg.logger.With(slog.String("logger", "dockermanage")),
		pullProgress:      cfg.pullProgress,
		startPollInterval: cfg.startPollInterval,
	}, nil
}

// Pull runs "docker pull <image>".
func (c *CLI) Pull(ctx context.Context, image string) error {
	if strings.TrimSpace(image) == "" {
		return errors.New("image is required")
	}
	cmd := exec.CommandContext(ctx, c.binary, "pull", image)
	errOutput := new(bytes.Buffer)
	cmd.Stdout = c.pullProgress
	cmd.Stderr = io.MultiWriter(errOutput, c.pullProgress)

	c.logger.Debug("run command", slog.String("command", cmd.String()))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker pull %s failed (stderr=%q): %w", image, strings.TrimSpace(errOutput.String()), err)
	}
	c.logger.Info("docker image pulled", slog.String("image", image))
	return nil
}

// HasImage reports whether the image is present locally.
func (c *CLI) HasImage(ctx context.Context, image string) (bool, error) {
	cmd := exec.CommandContext(ctx, c.binary, "image", "inspect", "--format", "{{.Id}}", image)
	errOutput := new(bytes.Buffer)
	cmd.Stderr = errOutput

	c.logger.Debug("output command", slog.String("command", cmd.String()))
	if _, err := cmd.Output(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// docker exits non-zero when the image does not exist.
			return false, nil
		}
		return false, fmt.Errorf("could not inspect image %s (stderr=%q): %w", image, errOutput.String(), err)
	}
	return true, nil
}

// Run runs "docker run -t --rm <options...> --label ... --name <name> <image> <command...>"
// with standard input closed. The container counts as started once docker reports it running
// with this call's [RunLabelKey] label. The -t flag merges container stderr into stdout.
func (c *CLI) Run(ctx context.Context, req RunRequest) (Process, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	req.Labels = maps.Clone(req.Labels)
	if req.Labels == nil {
		req.Labels = make(map[string]string)
	}
	req.Labels[RunLabelKey] = runID
	cmd := exec.Command(c.binary, runArgs(req)...)
	// Stdin stays nil: the process reads from the null device.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	c.logger.Debug("run command", slog.String("command", cmd.String()))
	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, fmt.Errorf("start docker run: %w", err)
	}
	lifetime, cancel := context.WithCancel(ctx)
	p := &cliProcess{
		cmd:     cmd,
		stdout:  stdoutR,
		stderr:  stderrR,
		stdoutW: stdoutW,
		stderrW: stderrW,
		started: make(chan struct{}),
		exited:  make(chan struct{}),
		cancel:  cancel,
	}
	go p.wait()
	go c.confirmStarted(lifetime, p, req.Name, runID)
	return p, nil
}

func runArgs(req RunRequest) []string {
	args := []string{"run", "-t", "--rm"}
	args = append(args, req.Options...)
	labels := req.labels()
	for _, key := range sortedKeys(labels) {
		args = append(args, "--label", key+"="+labels[key])
	}
	args = append(args, "--name", req.Name, req.Image)
	return append(args, req.Command...)
}

// confirmStarted closes p.started once the container under name is running and carries runID.
// It gives up when the docker run process exits, which cancels ctx.
func (c *CLI) confirmStarted(ctx context.Context, p *cliProcess, name, runID string) {
	backoff := retry.NewConstant(c.startPollInterval)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		running, err := c.running(ctx, name, runID)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !running {
			return retry.RetryableError(errNotRunning)
		}
		return nil
	})
	if err != nil {
		c.logger.Debug("container never confirmed running", slog.String("container", name), slog.Any("error", err))
		return
	}
	c.logger.Info("docker container started", slog.String("container", name))
	close(p.started)
}

func (c *CLI) running(ctx context.Context, name, runID string) (bool, error) {
	format := fmt.Sprintf("{{.State.Running}} {{index .Config.Labels %q}}", RunLabelKey)
	cmd := exec.CommandContext(ctx, c.binary, "container", "inspect", "--format", format, name)
	errOutput := new(bytes.Buffer)
	cmd.Stderr = errOutput

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("could not inspect container %s (stderr=%q): %w", name, errOutput.String(), err)
	}
	state, label, _ := strings.Cut(strings.TrimSpace(string(output)), " ")
	if strings.TrimSpace(label) != runID {
		return false, errForeignContainer
	}
	return state == "true", nil
}

// Stop runs "docker stop <name>".
func (c *CLI) Stop(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, c.binary, "stop", name)
	errOutput := new(bytes.Buffer)
	cmd.Stderr = errOutput

	c.logger.Debug("run command", slog.String("command", cmd.String()))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker stop %s failed (stderr=%q): %w", name, strings.TrimSpace(errOutput.String()), err)
	}
	c.logger.Info("docker container stopped", slog.String("container", name))
	return nil
}

// ListManaged returns the IDs of all containers started by this package.
func (c *CLI) ListManaged(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "ps", "-a", "--filter", "label="+ManagedLabelKey, "--format", "{{.ID}}")
	errOutput := new(bytes.Buffer)
	cmd.Stderr = errOutput

	c.logger.Debug("output command", slog.String("command", cmd.String()))
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("error getting managed containers (stderr=%q): %w", errOutput.String(), err)
	}
	return strings.Fields(string(output)), nil
}

// RemoveManaged force removes all containers started by this package and returns how many were
// removed.
func (c *CLI) RemoveManaged(ctx context.Context) (int, error) {
	ids, err := c.ListManaged(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]string{"rm", "-f"}, ids...)
	cmd := exec.CommandContext(ctx, c.binary, args...)
	errOutput := new(bytes.Buffer)
	cmd.Stderr = errOutput

	c.logger.Debug("run command", slog.String("command", cmd.String()))
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("could not remove managed containers (stderr=%q): %w", errOutput.String(), err)
	}
	c.logger.Info("removed all managed containers", slog.Int("count", len(ids)))
	return len(ids), nil
}

type cliProcess struct {
	cmd     *exec.Cmd
	stdout  *io.PipeReader
	stderr  *io.PipeReader
	stdoutW *io.PipeWriter
	stderrW *io.PipeWriter
	started chan struct{}
	exited  chan struct{}
	cancel  context.CancelFunc
	err     error
}

func (p *cliProcess) wait() {
	p.err = p.cmd.Wait()
	_ = p.stdoutW.Close()
	_ = p.stderrW.Close()
	p.cancel()
	close(p.exited)
}

func (p *cliProcess) Stdout() io.Reader { return p.stdout }
func (p *cliProcess) Stderr() io.Reader { return p.stderr }
func (p *cliProcess) Started() <-chan struct{} { return p.started }
func (p *cliProcess) Exited() <-chan struct{} { return p.exited }
func (p *cliProcess) Err() error { return p.err }

func (p *cliProcess) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill docker run process: %w", err)
	}
	return nil
}
