package dockermanage

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
)

const (
	// ManagedLabelKey marks containers created by this package. The value is the service
	// identifier (e.g., "postgres"). Presence of the key means the container is managed.
	ManagedLabelKey = "pressly.ephemeral"
	// RunLabelKey carries an identifier unique to one Run call. The CLI runtime only treats a
	// container as started when its inspected label matches, so an existing container with the
	// same name is never mistaken for its own.
	RunLabelKey = "pressly.ephemeral.run"
)

// Runtime runs containers.
type Runtime interface {
	// Pull makes the image available locally. It blocks until the pull completes or fails.
	Pull(ctx context.Context, image string) error
	// Run starts exactly one container and returns its supervised process. The returned process
	// has not necessarily reached the started state; see [Process.Started].
	Run(ctx context.Context, req RunRequest) (Process, error)
	// Stop asks the named container to stop gracefully.
	Stop(ctx context.Context, name string) error
}

// Pruner removes every container carrying the managed label.
type Pruner interface {
	RemoveManaged(ctx context.Context) (int, error)
}

// Process is a running container as observed from the local side.
type Process interface {
	// Stdout is the container's standard output. It must be drained until EOF.
	Stdout() io.Reader
	// Stderr is the container's standard error. It must be drained until EOF.
	Stderr() io.Reader
	// Started is closed once the container is confirmed running.
	Started() <-chan struct{}
	// Exited is closed once the process has exited. Started may never be closed if the
	// process exits first.
	Exited() <-chan struct{}
	// Err returns the exit error. Only valid after Exited is closed.
	Err() error
	// Kill forcefully terminates the local process handle. Killing an exited process is not an
	// error.
	Kill() error
}

// RunRequest describes a container to run.
type RunRequest struct {
	// Image is the image reference, including the tag.
	Image string
	// Name is the container name. Required.
	Name string
	// Options are extra docker run flags, e.g. "-p", "127.0.0.1:5432:5432", "-e", "A=B".
	Options []string
	// Command is the command and arguments passed after the image.
	Command []string
	// Labels are added to the container in addition to the managed label.
	Labels map[string]string
}

func (r RunRequest) validate() error {
	if strings.TrimSpace(r.Image) == "" {
		return errors.New("image is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("container name is required")
	}
	return nil
}

func (r RunRequest) labels() map[string]string {
	labels := map[string]string{ManagedLabelKey: ""}
	for k, v := range r.Labels {
		labels[k] = v
	}
	return labels
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
