package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pressly/ephemeral/pkg/dockermanage"
	"github.com/pressly/ephemeral/pkg/dockermanage/dockermanagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTeardownGuardFiresOnce(t *testing.T) {
	t.Parallel()

	var g TeardownGuard
	var runs atomic.Int32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Fire(func() { runs.Add(1) }) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, runs.Load())
	assert.EqualValues(t, 1, wins.Load())
	assert.True(t, g.Fired())
	assert.False(t, g.Fire(func() { t.Error("second fire ran") }))
}

func TestDrainLines(t *testing.T) {
	t.Parallel()

	var got []string
	err := drainLines(strings.NewReader("one\r\ntwo\n\nthree"), func(s string) { got = append(got, s) })
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, got)

	err = drainLines(errReader{err: errors.New("read failed")}, func(string) {})
	require.EqualError(t, err, "read failed")
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestDiagnosticsClosedDropsMessages(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d := NewDiagnostics(rec)
	d.Send("before")
	d.Close()
	d.Sendf("after %d", 1)
	assert.Equal(t, []string{"before"}, rec.Diagnostics())

	// A nil reporter is allowed.
	NewDiagnostics(nil).Send("ignored")
}

func TestDiagnosticsGate(t *testing.T) {
	t.Parallel()

	d := NewDiagnostics(nil)
	var lines []string
	gated := d.Gate(func(line string) { lines = append(lines, line) })
	gated("before")
	d.Close()
	gated("after")
	assert.Equal(t, []string{"before"}, lines)

	// A nil function drops everything.
	NewDiagnostics(nil).Gate(nil)("ignored")
}

func TestStdoutHookSilentAfterClose(t *testing.T) {
	t.Parallel()

	var hooked atomic.Int32
	rt := &dockermanagetest.Runtime{
		RunFn: func(context.Context, dockermanage.RunRequest) (dockermanage.Process, error) {
			return dockermanagetest.NewProcess(), nil
		},
	}
	diag := NewDiagnostics(&recorder{})
	supervisor := NewContainerSupervisor(rt, diag, func(string) { hooked.Add(1) }, discardLogger())
	h, err := supervisor.Start(t.Context(), dockermanage.RunRequest{Image: "a:1", Name: "late-output"})
	require.NoError(t, err)
	p := rt.Process("late-output")
	require.NotNil(t, p)

	require.NoError(t, p.WriteStdout("early\n"))
	diag.Close()
	require.NoError(t, p.WriteStdout("late\n"))
	p.Exit(nil)
	require.NoError(t, h.Wait(time.Second))

	// The write of "early" returns once the line is read; the hook may still be running, so
	// only an upper bound holds.
	assert.LessOrEqual(t, hooked.Load(), int32(1))
}

func TestReadinessGate(t *testing.T) {
	t.Parallel()

	newHandle := func() (*Handle, *dockermanagetest.Process) {
		p := dockermanagetest.NewProcess()
		p.Start()
		return &Handle{Name: "c", Process: p, done: make(chan struct{})}, p
	}
	type proberFunc func(ctx context.Context, name string) (bool, error)

	tests := []struct {
		name  string
		probe proberFunc
		want  Readiness
	}{
		{"ready", func(context.Context, string) (bool, error) { return true, nil }, Ready},
		{"never", neverReady, TimedOut},
		{"false_then_deadline", func(context.Context, string) (bool, error) { return false, nil }, TimedOut},
		{"error_then_deadline", func(context.Context, string) (bool, error) { return false, errors.New("refused") }, TimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, p := newHandle()
			defer p.Exit(nil)
			rec := &recorder{}
			gate := NewReadinessGate(40*time.Millisecond, NewDiagnostics(rec), discardLogger())
			got := gate.Await(t.Context(), probeAdapter(tt.probe), h)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("exited", func(t *testing.T) {
		t.Parallel()
		h, p := newHandle()
		p.Exit(errors.New("crashed"))
		gate := NewReadinessGate(time.Minute, NewDiagnostics(nil), discardLogger())
		assert.Equal(t, Exited, gate.Await(t.Context(), probeAdapter(neverReady), h))
	})
	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		h, p := newHandle()
		defer p.Exit(nil)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		gate := NewReadinessGate(time.Minute, NewDiagnostics(nil), discardLogger())
		assert.Equal(t, Canceled, gate.Await(ctx, probeAdapter(neverReady), h))
	})
	t.Run("default_timeout", func(t *testing.T) {
		t.Parallel()
		gate := NewReadinessGate(0, NewDiagnostics(nil), discardLogger())
		assert.Equal(t, DefaultReadyTimeout, gate.timeout)
	})
}

type probeAdapter func(ctx context.Context, name string) (bool, error)

func (p probeAdapter) IsReady(ctx context.Context, name string) (bool, error) { return p(ctx, name) }

func TestImagePuller(t *testing.T) {
	t.Parallel()

	t.Run("always", func(t *testing.T) {
		rt := &dockermanagetest.Runtime{
			HasImageFn: func(context.Context, string) (bool, error) { return true, nil },
		}
		require.NoError(t, NewImagePuller(rt, PullAlways, discardLogger()).Ensure(t.Context(), "redis:7"))
		assert.Equal(t, []string{"Pull"}, rt.Calls())
	})
	t.Run("missing_absent", func(t *testing.T) {
		rt := &dockermanagetest.Runtime{}
		require.NoError(t, NewImagePuller(rt, PullMissing, discardLogger()).Ensure(t.Context(), "redis:7"))
		assert.Equal(t, []string{"HasImage", "Pull"}, rt.Calls())
	})
	t.Run("missing_lookup_error", func(t *testing.T) {
		rt := &dockermanagetest.Runtime{
			HasImageFn: func(context.Context, string) (bool, error) { return false, errors.New("daemon busy") },
		}
		require.NoError(t, NewImagePuller(rt, PullMissing, discardLogger()).Ensure(t.Context(), "redis:7"))
		assert.Equal(t, []string{"HasImage", "Pull"}, rt.Calls())
	})
	t.Run("pull_error", func(t *testing.T) {
		rt := &dockermanagetest.Runtime{
			PullFn: func(context.Context, string) error { return errors.New("no such tag") },
		}
		err := NewImagePuller(rt, "", discardLogger()).Ensure(t.Context(), "redis:nope")
		require.EqualError(t, err, "no such tag")
	})
}

func TestParsePullPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParsePullPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PullAlways, p)
	p, err = ParsePullPolicy("missing")
	require.NoError(t, err)
	assert.Equal(t, PullMissing, p)
	_, err = ParsePullPolicy("never")
	require.Error(t, err)
}

func TestTeardownRunsOnCanceledContext(t *testing.T) {
	t.Parallel()

	rt := &dockermanagetest.Runtime{}
	p := dockermanagetest.NewProcess()
	p.Start()
	var stopCtxErr error
	rt.StopFn = func(ctx context.Context, name string) error {
		stopCtxErr = ctx.Err()
		assert.Equal(t, "c", name)
		return nil
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := NewTeardown(rt, time.Second, discardLogger()).Run(ctx, &Handle{Name: "c", Process: p})
	require.NoError(t, err)
	assert.NoError(t, stopCtxErr)
	assert.Equal(t, 1, p.Kills())
	assert.Equal(t, dockermanagetest.ErrKilled, p.Err())
}

func TestTeardownCombinesErrors(t *testing.T) {
	t.Parallel()

	rt := &dockermanagetest.Runtime{
		StopFn: func(context.Context, string) error { return errors.New("no such container") },
	}
	h := &Handle{Name: "c", Process: failingKill{dockermanagetest.NewProcess()}}
	defer h.Process.(failingKill).Exit(nil)

	err := NewTeardown(rt, time.Second, discardLogger()).Run(t.Context(), h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop: no such container")
	assert.Contains(t, err.Error(), "kill: permission denied")
}

type failingKill struct{ *dockermanagetest.Process }

func (failingKill) Kill() error { return errors.New("permission denied") }

var _ dockermanage.Process = failingKill{}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "succeeded", Success().String())
	assert.Equal(t, "skipped: no docker", Skip("no docker").String())
	assert.Equal(t, "failed: boom", Fail(errors.New("boom")).String())
	assert.Equal(t, "awaiting_ready", PhaseAwaitingReady.String())
	assert.True(t, PhaseFailed.Terminal())
	assert.False(t, PhaseRunningBody.Terminal())
}
