// Package dockermanagetest provides a scriptable in-memory [dockermanage.Runtime] for tests.
package dockermanagetest

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/pressly/ephemeral/pkg/dockermanage"
)

// ErrKilled is the exit error of a process terminated through Kill.
var ErrKilled = errors.New("process killed")

// Runtime is a test double for dockermanage.Runtime using the function-field pattern. If a field
// is nil the default behavior applies: Pull and Stop succeed, Run returns a process that is
// started immediately, and Stop makes the matching process exit.
//
// Every call is recorded by method name in Calls; Kill on a process returned by Run is recorded
// as "Kill".
type Runtime struct {
	PullFn          func(ctx context.Context, image string) error
	HasImageFn      func(ctx context.Context, image string) (bool, error)
	RunFn           func(ctx context.Context, req dockermanage.RunRequest) (dockermanage.Process, error)
	StopFn          func(ctx context.Context, name string) error
	RemoveManagedFn func(ctx context.Context) (int, error)

	mu        sync.Mutex
	calls     []string
	requests  []dockermanage.RunRequest
	processes map[string]*Process
}

var (
	_ dockermanage.Runtime = (*Runtime)(nil)
	_ dockermanage.Pruner  = (*Runtime)(nil)
)

func (r *Runtime) record(method string) {
	r.mu.Lock()
	r.calls = append(r.calls, method)
	r.mu.Unlock()
}

// Calls returns the recorded method names in call order.
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Count returns how many times method was called.
func (r *Runtime) Count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Requests returns every RunRequest passed to Run.
func (r *Runtime) Requests() []dockermanage.RunRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.requests)
}

// Process returns the fake process started under name, or nil.
func (r *Runtime) Process(name string) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processes[name]
}

func (r *Runtime) Pull(ctx context.Context, image string) error {
	r.record("Pull")
	if r.PullFn != nil {
		return r.PullFn(ctx, image)
	}
	return nil
}

func (r *Runtime) HasImage(ctx context.Context, image string) (bool, error) {
	r.record("HasImage")
	if r.HasImageFn != nil {
		return r.HasImageFn(ctx, image)
	}
	return false, nil
}

func (r *Runtime) Run(ctx context.Context, req dockermanage.RunRequest) (dockermanage.Process, error) {
	r.record("Run")
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	var proc dockermanage.Process
	if r.RunFn != nil {
		var err error
		proc, err = r.RunFn(ctx, req)
		if err != nil {
			return nil, err
		}
	} else {
		p := NewProcess()
		p.Start()
		proc = p
	}
	if p, ok := proc.(*Process); ok {
		p.mu.Lock()
		p.onKill = func() { r.record("Kill") }
		p.mu.Unlock()
		r.mu.Lock()
		if r.processes == nil {
			r.processes = make(map[string]*Process)
		}
		r.processes[req.Name] = p
		r.mu.Unlock()
	}
	return proc, nil
}

func (r *Runtime) Stop(ctx context.Context, name string) error {
	r.record("Stop")
	if r.StopFn != nil {
		return r.StopFn(ctx, name)
	}
	if p := r.Process(name); p != nil {
		p.Exit(nil)
	}
	return nil
}

func (r *Runtime) RemoveManaged(ctx context.Context) (int, error) {
	r.record("RemoveManaged")
	if r.RemoveManagedFn != nil {
		return r.RemoveManagedFn(ctx)
	}
	return 0, nil
}

// Process is a fake container process. Output written with WriteStdout and WriteStderr blocks
// until the supervisor reads it, like a real pipe.
type Process struct {
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	started chan struct{}
	exited  chan struct{}

	startOnce sync.Once
	exitOnce  sync.Once
	err       error
	onKill    func()

	mu    sync.Mutex
	kills int
}

var _ dockermanage.Process = (*Process)(nil)

// NewProcess returns a process that is neither started nor exited.
func NewProcess() *Process {
	p := &Process{
		started: make(chan struct{}),
		exited:  make(chan struct{}),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

// Start signals that the container is running.
func (p *Process) Start() {
	p.startOnce.Do(func() { close(p.started) })
}

// Exit closes the output streams and signals exit. Only the first call has an effect.
func (p *Process) Exit(err error) {
	p.exitOnce.Do(func() {
		p.err = err
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.exited)
	})
}

// WriteStdout writes s to the process's standard output.
func (p *Process) WriteStdout(s string) error {
	_, err := io.WriteString(p.stdoutW, s)
	return err
}

// WriteStderr writes s to the process's standard error.
func (p *Process) WriteStderr(s string) error {
	_, err := io.WriteString(p.stderrW, s)
	return err
}

// Kills returns how many times Kill was called.
func (p *Process) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

func (p *Process) Stdout() io.Reader { return p.stdoutR }
func (p *Process) Stderr() io.Reader { return p.stderrR }
func (p *Process) Started() <-chan struct{} { return p.started }
func (p *Process) Exited() <-chan struct{} { return p.exited }

func (p *Process) Err() error {
	<-p.exited
	return p.err
}

func (p *Process) Kill() error {
	p.mu.Lock()
	p.kills++
	onKill := p.onKill
	p.mu.Unlock()
	if onKill != nil {
		onKill()
	}
	p.Exit(ErrKilled)
	return nil
}
