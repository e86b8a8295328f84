package dockermanage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
	"github.com/sethvargo/go-retry"
)

// Manager is a [Runtime] backed by the Docker Engine API through the native moby client.
type Manager struct {
	client            *client.Client
	logger            *slog.Logger
	pullProgress      io.Writer
	startPollInterval time.Duration
}

var (
	_ Runtime = (*Manager)(nil)
	_ Pruner  = (*Manager)(nil)
)

// NewManager creates a new manager backed by the Docker client configured from environment.
func NewManager(options ...Option) (*Manager, error) {
	cfg, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	dockerClient, err := client.New(
		client.FromEnv,
	)
	if err != nil {
		return nil, fmt.Errorf("create Docker client: %w", err)
	}
	return &Manager{
		client:            dockerClient,
		logger:            cfg.logger.With(slog.String("logger", "dockermanage")),
		pullProgress:      cfg.pullProgress,
		startPollInterval: cfg.startPollInterval,
	}, nil
}

// Pull pulls the image and verifies it is present afterwards. Errors reported inside the pull
// progress stream surface through the verification.
func (m *Manager) Pull(ctx context.Context, image string) (retErr error) {
	reader, err := m.client.ImagePull(ctx, image, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer func() {
		retErr = errors.Join(retErr, reader.Close())
	}()
	if _, err := io.Copy(m.pullProgress, reader); err != nil {
		return fmt.Errorf("stream pull output: %w", err)
	}
	ok, err := m.HasImage(ctx, image)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("image %s not found after pull", image)
	}
	m.logger.Info("docker image pulled", slog.String("image", image))
	return nil
}

// HasImage reports whether the image is present locally.
func (m *Manager) HasImage(ctx context.Context, image string) (bool, error) {
	if _, err := m.client.ImageInspect(ctx, image); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect image: %w", err)
	}
	return true, nil
}

// Run creates and starts an auto-removed container. Options use docker run flag syntax; see
// [ParseRunOptions] for the supported subset.
func (m *Manager) Run(ctx context.Context, req RunRequest) (_ Process, retErr error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	spec, err := ParseRunOptions(req.Options)
	if err != nil {
		return nil, err
	}
	labels := req.labels()
	maps.Copy(labels, spec.Labels)

	resp, err := m.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Name: req.Name,
		Config: &container.Config{
			Image:        req.Image,
			Cmd:          req.Command,
			Env:          spec.Env,
			Hostname:     spec.Hostname,
			ExposedPorts: spec.ExposedPorts,
			Labels:       labels,
		},
		HostConfig: &container.HostConfig{
			PortBindings: spec.PortBindings,
			Tmpfs:        spec.Tmpfs,
			AutoRemove:   true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		if retErr != nil {
			cleanupCtx := context.WithoutCancel(ctx)
			_, err := m.client.ContainerRemove(cleanupCtx, resp.ID, client.ContainerRemoveOptions{Force: true})
			if err != nil && !errdefs.IsNotFound(err) {
				m.logger.Error(
					"remove container after start failure",
					slog.String("container_id", resp.ID),
					slog.Any("error", err),
				)
			}
		}
	}()

	// The process outlives the caller's request context; it ends when the container exits.
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	waitResult := m.client.ContainerWait(lifetime, resp.ID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNextExit,
	})
	if _, err := m.client.ContainerStart(ctx, resp.ID, client.ContainerStartOptions{}); err != nil {
		cancel()
		return nil, fmt.Errorf("start container: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	p := &engineProcess{
		manager: m,
		id:      resp.ID,
		stdout:  stdoutR,
		stderr:  stderrR,
		started: make(chan struct{}),
		exited:  make(chan struct{}),
		cancel:  cancel,
	}
	go p.wait(waitResult)
	go m.streamLogs(lifetime, resp.ID, stdoutW, stderrW)
	go m.confirmStarted(lifetime, p, req.Name)
	return p, nil
}

func (m *Manager) streamLogs(ctx context.Context, id string, stdout, stderr *io.PipeWriter) {
	defer func() {
		_ = stdout.Close()
		_ = stderr.Close()
	}()
	reader, err := m.client.ContainerLogs(ctx, id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		m.logger.Debug("container logs unavailable", slog.String("container_id", id), slog.Any("error", err))
		return
	}
	defer reader.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Debug("container log stream ended", slog.String("container_id", id), slog.Any("error", err))
	}
}

func (m *Manager) confirmStarted(ctx context.Context, p *engineProcess, name string) {
	backoff := retry.NewConstant(m.startPollInterval)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := m.client.ContainerInspect(ctx, p.id, client.ContainerInspectOptions{})
		if err != nil {
			return retry.RetryableError(err)
		}
		if result.Container.State == nil || !result.Container.State.Running {
			return retry.RetryableError(errNotRunning)
		}
		return nil
	})
	if err != nil {
		m.logger.Debug("container never confirmed running", slog.String("container", name), slog.Any("error", err))
		return
	}
	m.logger.Info(
		"docker container started",
		slog.String("container", name),
		slog.String("container_id", p.id),
	)
	close(p.started)
}

// Stop stops a running container.
func (m *Manager) Stop(ctx context.Context, name string) error {
	if _, err := m.client.ContainerStop(ctx, name, client.ContainerStopOptions{}); err != nil {
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	m.logger.Info("docker container stopped", slog.String("container", name))
	return nil
}

// ListManaged returns all container IDs started by this package.
func (m *Manager) ListManaged(ctx context.Context) ([]string, error) {
	result, err := m.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: client.Filters{}.Add("label", ManagedLabelKey),
	})
	if err != nil {
		return nil, fmt.Errorf("list managed containers: %w", err)
	}
	ids := make([]string, 0, len(result.Items))
	for _, c := range result.Items {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// RemoveManaged force removes all containers started by this package.
func (m *Manager) RemoveManaged(ctx context.Context) (int, error) {
	ids, err := m.ListManaged(ctx)
	if err != nil {
		return 0, fmt.Errorf("list containers for remove: %w", err)
	}
	var errs []error
	removed := 0
	for _, id := range ids {
		if _, err := m.client.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true}); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("remove container %s: %w", id, err))
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, errors.Join(errs...)
	}
	m.logger.Info("removed all managed containers", slog.Int("count", removed))
	return removed, nil
}

// Close closes the underlying Docker client.
func (m *Manager) Close() error {
	return m.client.Close()
}

type engineProcess struct {
	manager *Manager
	id      string
	stdout  *io.PipeReader
	stderr  *io.PipeReader
	started chan struct{}
	exited  chan struct{}
	cancel  context.CancelFunc
	err     error
}

func (p *engineProcess) wait(waitResult client.ContainerWaitResult) {
	defer close(p.exited)
	defer p.cancel()
	select {
	case result := <-waitResult.Result:
		switch {
		case result.Error != nil && result.Error.Message != "":
			p.err = fmt.Errorf("container %s exited: %s", p.id, result.Error.Message)
		case result.StatusCode != 0:
			p.err = fmt.Errorf("container %s exited with status %d", p.id, result.StatusCode)
		}
	case err := <-waitResult.Error:
		p.err = fmt.Errorf("wait for container %s: %w", p.id, err)
	}
}

func (p *engineProcess) Stdout() io.Reader { return p.stdout }
func (p *engineProcess) Stderr() io.Reader { return p.stderr }
func (p *engineProcess) Started() <-chan struct{} { return p.started }
func (p *engineProcess) Exited() <-chan struct{} { return p.exited }
func (p *engineProcess) Err() error { return p.err }

func (p *engineProcess) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := p.manager.client.ContainerKill(ctx, p.id, client.ContainerKillOptions{Signal: "KILL"})
	if err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		return fmt.Errorf("kill container %s: %w", p.id, err)
	}
	return nil
}
