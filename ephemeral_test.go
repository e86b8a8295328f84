package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pressly/ephemeral/pkg/dockermanage"
	"github.com/pressly/ephemeral/pkg/dockermanage/dockermanagetest"
	"github.com/pressly/ephemeral/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeServiceID = "ephemeraltest"

func init() {
	service.Register(fakeServiceID, func(opts service.Options) (service.Spec, error) {
		if opts.Get("fail", "") != "" {
			return nil, errors.New("bad options")
		}
		return &fakeSpec{Base: service.Base{
			Image:   "example/fake",
			Tag:     "1.0",
			Options: []string{"-e", "USER=" + opts.Get(service.KeyUser, "tester")},
			Data: service.ConnectionData{
				service.KeyHost: service.DefaultHost,
				service.KeyPort: 4000,
				service.KeyUser: opts.Get(service.KeyUser, "tester"),
			},
		}}, nil
	})
}

type fakeSpec struct {
	service.Base
}

func (s *fakeSpec) IsReady(context.Context, string) (bool, error) { return true, nil }

type recorder struct {
	mu          sync.Mutex
	skips       []string
	diagnostics []string
	reraised    []error
}

func (r *recorder) Skip(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips = append(r.skips, reason)
}

func (r *recorder) Diagnostic(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, message)
}

func (r *recorder) Reraise(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reraised = append(r.reraised, err)
}

func noop(context.Context, ConnectionData) error { return nil }

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("succeeds", func(t *testing.T) {
		t.Parallel()
		rt := &dockermanagetest.Runtime{}
		rec := &recorder{}
		var got ConnectionData
		out := Run(t.Context(), fakeServiceID, func(ctx context.Context, data ConnectionData) error {
			got = data
			return nil
		}, WithRuntime(rt), WithReporter(rec))
		require.Equal(t, Succeeded, out.Status)
		assert.Equal(t, service.DefaultHost, got.Host())
		assert.Equal(t, 4000, got.Port())
		assert.Equal(t, []string{"Pull", "Run", "Stop", "Kill"}, rt.Calls())
		assert.Empty(t, rec.skips)
		assert.Empty(t, rec.reraised)
	})
	t.Run("body error fails after teardown", func(t *testing.T) {
		t.Parallel()
		rt := &dockermanagetest.Runtime{}
		rec := &recorder{}
		boom := errors.New("boom")
		out := Run(t.Context(), fakeServiceID, func(context.Context, ConnectionData) error {
			return boom
		}, WithRuntime(rt), WithReporter(rec))
		require.Equal(t, Failed, out.Status)
		require.ErrorIs(t, out.Err, boom)
		require.Len(t, rec.reraised, 1)
		require.ErrorIs(t, rec.reraised[0], boom)
		assert.Equal(t, 1, rt.Count("Stop"))
	})
	t.Run("unknown service skips", func(t *testing.T) {
		t.Parallel()
		rt := &dockermanagetest.Runtime{}
		rec := &recorder{}
		out := Run(t.Context(), "no-such-service", noop, WithRuntime(rt), WithReporter(rec))
		require.Equal(t, Skipped, out.Status)
		assert.Contains(t, out.Reason, "no-such-service")
		assert.Equal(t, []string{out.Reason}, rec.skips)
		assert.Empty(t, rt.Calls())
	})
	t.Run("service factory error skips", func(t *testing.T) {
		t.Parallel()
		rt := &dockermanagetest.Runtime{}
		out := Run(t.Context(), fakeServiceID, noop,
			WithRuntime(rt),
			WithReporter(&recorder{}),
			WithServiceOptions(map[string]string{"fail": "yes"}),
		)
		require.Equal(t, Skipped, out.Status)
		assert.Contains(t, out.Reason, "bad options")
		assert.Empty(t, rt.Calls())
	})
	t.Run("invalid options skip", func(t *testing.T) {
		t.Parallel()
		rt := &dockermanagetest.Runtime{}
		rec := &recorder{}
		out := Run(t.Context(), fakeServiceID, noop,
			WithRuntime(rt),
			WithReporter(rec),
			WithTimeout(0),
			WithRunName("-bad"),
		)
		require.Equal(t, Skipped, out.Status)
		assert.Contains(t, out.Reason, "Invalid options")
		assert.Contains(t, out.Reason, "timeout must be positive")
		assert.Contains(t, out.Reason, "invalid container name")
		assert.Len(t, rec.skips, 1)
		assert.Empty(t, rt.Calls())
	})
	t.Run("pull failure skips", func(t *testing.T) {
		t.Parallel()
		rt := &dockermanagetest.Runtime{
			PullFn: func(context.Context, string) error { return errors.New("manifest unknown") },
		}
		out := Run(t.Context(), fakeServiceID, noop, WithRuntime(rt), WithReporter(&recorder{}))
		require.Equal(t, Skipped, out.Status)
		assert.Contains(t, out.Reason, "example/fake:1.0")
		assert.Contains(t, out.Reason, "manifest unknown")
		assert.Zero(t, rt.Count("Run"))
	})
	t.Run("tag name and options reach the runtime", func(t *testing.T) {
		t.Parallel()
		rt := &dockermanagetest.Runtime{}
		var user string
		out := Run(t.Context(), fakeServiceID, func(_ context.Context, data ConnectionData) error {
			user = data.String(service.KeyUser)
			return nil
		},
			WithRuntime(rt),
			WithReporter(&recorder{}),
			WithTag("2.0"),
			WithRunName("custom-name"),
			WithServiceOptions(map[string]string{service.KeyUser: "alice"}),
		)
		require.Equal(t, Succeeded, out.Status)
		reqs := rt.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "example/fake:2.0", reqs[0].Image)
		assert.Equal(t, "custom-name", reqs[0].Name)
		assert.Contains(t, reqs[0].Options, "USER=alice")
		assert.Equal(t, fakeServiceID, reqs[0].Labels[dockermanage.ManagedLabelKey])
		assert.Equal(t, "alice", user)
	})
	t.Run("stdout hook", func(t *testing.T) {
		t.Parallel()
		var (
			mu    sync.Mutex
			lines []string
		)
		rt := &dockermanagetest.Runtime{
			RunFn: func(context.Context, dockermanage.RunRequest) (dockermanage.Process, error) {
				p := dockermanagetest.NewProcess()
				go func() {
					_ = p.WriteStdout("listening\n")
					p.Start()
				}()
				return p, nil
			},
		}
		out := Run(t.Context(), fakeServiceID, noop,
			WithRuntime(rt),
			WithReporter(&recorder{}),
			WithStdoutHook(func(line string) {
				mu.Lock()
				lines = append(lines, line)
				mu.Unlock()
			}),
		)
		require.Equal(t, Succeeded, out.Status)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"listening"}, lines)
	})
}

// conflictingDocker is a docker binary whose run always loses a name conflict against a running
// container of another run.
const conflictingDocker = `#!/bin/sh
echo "$*" >> "%DIR%/calls"
case "$1" in
run)
	sleep 0.2
	echo "docker: Error response from daemon: Conflict. The container name is already in use." >&2
	exit 125
	;;
container)
	echo "true 0d6e8f4b-another-run"
	;;
esac
`

func TestRunNameConflictSkipsWithoutTeardown(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("fake docker binary is a shell script")
	}

	dir := t.TempDir()
	bin := filepath.Join(dir, "docker")
	script := strings.ReplaceAll(conflictingDocker, "%DIR%", dir)
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	cli, err := dockermanage.NewCLI(dockermanage.WithBinary(bin), dockermanage.WithStartPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	rec := &recorder{}
	called := false
	out := Run(t.Context(), fakeServiceID, func(context.Context, ConnectionData) error {
		called = true
		return nil
	}, WithRuntime(cli), WithReporter(rec), WithRunName("ephemeral-dup"))
	require.Equal(t, Skipped, out.Status)
	assert.Contains(t, out.Reason, "failed before starting tests")
	assert.False(t, called)

	b, err := os.ReadFile(filepath.Join(dir, "calls"))
	require.NoError(t, err)
	for _, call := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		assert.False(t, strings.HasPrefix(call, "stop "), "stopped a container owned by another run: %s", call)
	}
}

func TestRunUniqueNames(t *testing.T) {
	t.Parallel()

	rt := &dockermanagetest.Runtime{}
	const n = 8
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := Run(t.Context(), fakeServiceID, func(context.Context, ConnectionData) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			}, WithRuntime(rt), WithReporter(&recorder{}))
			assert.Equal(t, Succeeded, out.Status)
		}()
	}
	wg.Wait()
	var names []string
	for _, req := range rt.Requests() {
		names = append(names, req.Name)
	}
	require.Len(t, names, n)
	slices.Sort(names)
	assert.Len(t, slices.Compact(names), n)
	assert.Equal(t, n, rt.Count("Stop"))
}

// fakeTB records what a Reporter built by TB does instead of ending the test.
type fakeTB struct {
	testing.TB
	ctx context.Context

	mu     sync.Mutex
	skips  []string
	logs   []string
	fatals []string
}

func (f *fakeTB) Helper()                  {}
func (f *fakeTB) Context() context.Context { return f.ctx }

func (f *fakeTB) Skip(args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips = append(f.skips, fmt.Sprint(args...))
}

func (f *fakeTB) Log(args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, fmt.Sprint(args...))
}

func (f *fakeTB) Fatal(args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fatals = append(f.fatals, fmt.Sprint(args...))
}

func TestRunT(t *testing.T) {
	t.Parallel()

	t.Run("passes", func(t *testing.T) {
		t.Parallel()
		rt := &dockermanagetest.Runtime{}
		called := false
		RunT(t, fakeServiceID, func(context.Context, ConnectionData) error {
			called = true
			return nil
		}, WithRuntime(rt))
		assert.True(t, called)
		assert.Equal(t, 1, rt.Count("Stop"))
	})
	t.Run("body error is fatal", func(t *testing.T) {
		t.Parallel()
		tb := &fakeTB{TB: t, ctx: t.Context()}
		RunT(tb, fakeServiceID, func(context.Context, ConnectionData) error {
			return errors.New("assertion failed")
		}, WithRuntime(&dockermanagetest.Runtime{}))
		require.Len(t, tb.fatals, 1)
		assert.Contains(t, tb.fatals[0], "assertion failed")
		assert.Empty(t, tb.skips)
	})
	t.Run("environment problem skips", func(t *testing.T) {
		t.Parallel()
		tb := &fakeTB{TB: t, ctx: t.Context()}
		RunT(tb, "no-such-service", noop, WithRuntime(&dockermanagetest.Runtime{}))
		require.Len(t, tb.skips, 1)
		assert.Contains(t, tb.skips[0], "no-such-service")
		assert.Empty(t, tb.fatals)
	})
}

func TestPrune(t *testing.T) {
	t.Parallel()

	rt := &dockermanagetest.Runtime{
		RemoveManagedFn: func(context.Context) (int, error) { return 3, nil },
	}
	n, err := Prune(t.Context(), WithRuntime(rt))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = Prune(t.Context(), WithRuntime(nil))
	require.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		want    envConfig
		wantErr string
	}{
		{
			name: "defaults",
			want: envConfig{runtime: RuntimeCLI, docker: dockermanage.DefaultBinary},
		},
		{
			name: "all set",
			env: map[string]string{
				EnvRuntime:      "engine",
				EnvDocker:       "/usr/local/bin/podman",
				EnvReadyTimeout: "90s",
				EnvPull:         "missing",
				EnvDebug:        "true",
				EnvBlock:        "1",
				EnvNoPrune:      "TRUE",
			},
			want: envConfig{
				runtime:      RuntimeEngine,
				docker:       "/usr/local/bin/podman",
				readyTimeout: 90 * time.Second,
				pullPolicy:   "missing",
				debug:        true,
				block:        true,
				noPrune:      true,
			},
		},
		{
			name: "unparsable booleans are false",
			env:  map[string]string{EnvDebug: "yes please", EnvBlock: "0"},
			want: envConfig{runtime: RuntimeCLI, docker: dockermanage.DefaultBinary},
		},
		{
			name:    "unknown runtime",
			env:     map[string]string{EnvRuntime: "podman"},
			wantErr: "unknown runtime",
		},
		{
			name:    "bad timeout",
			env:     map[string]string{EnvReadyTimeout: "soon"},
			wantErr: EnvReadyTimeout,
		},
		{
			name:    "negative timeout",
			env:     map[string]string{EnvReadyTimeout: "-1s"},
			wantErr: "must be positive",
		},
		{
			name:    "bad pull policy",
			env:     map[string]string{EnvPull: "sometimes"},
			wantErr: EnvPull,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := loadEnv(func(key string) string { return tt.env[key] })
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvRuntime(t *testing.T) {
	t.Parallel()

	rt, err := envConfig{runtime: RuntimeCLI, docker: "docker"}.newRuntime(discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &dockermanage.CLI{}, rt)
}

func TestNewRunName(t *testing.T) {
	t.Parallel()

	a := NewRunName("Postgres 16")
	b := NewRunName("Postgres 16")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "ephemeral-postgres-16-"), a)
	assert.True(t, validContainerName(a), a)
	assert.True(t, validContainerName(NewRunName("")))
}

func TestValidContainerName(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]bool{
		"ephemeral-postgres-1": true,
		"a.b_c-d":              true,
		"A1":                   true,
		"x":                    false,
		"-leading":             false,
		".leading":             false,
		"has space":            false,
		"slash/name":           false,
	} {
		assert.Equal(t, want, validContainerName(name), name)
	}
}
