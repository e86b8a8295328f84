package dockermanagetest

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pressly/ephemeral/pkg/dockermanage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeDefaults(t *testing.T) {
	t.Parallel()

	rt := &Runtime{}
	ctx := t.Context()
	require.NoError(t, rt.Pull(ctx, "a:1"))
	ok, err := rt.HasImage(ctx, "a:1")
	require.NoError(t, err)
	assert.False(t, ok)

	proc, err := rt.Run(ctx, dockermanage.RunRequest{Image: "a:1", Name: "n1"})
	require.NoError(t, err)
	<-proc.Started()

	require.NoError(t, rt.Stop(ctx, "n1"))
	<-proc.Exited()
	require.NoError(t, proc.Err())

	n, err := rt.RemoveManaged(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []string{"Pull", "HasImage", "Run", "Stop", "RemoveManaged"}, rt.Calls())
	require.Len(t, rt.Requests(), 1)
	assert.Equal(t, "n1", rt.Requests()[0].Name)
	assert.NotNil(t, rt.Process("n1"))
	assert.Nil(t, rt.Process("n2"))
}

func TestRuntimeFunctionFields(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	rt := &Runtime{
		PullFn: func(context.Context, string) error { return boom },
		RunFn: func(context.Context, dockermanage.RunRequest) (dockermanage.Process, error) {
			return nil, boom
		},
	}
	require.ErrorIs(t, rt.Pull(t.Context(), "a:1"), boom)
	_, err := rt.Run(t.Context(), dockermanage.RunRequest{Image: "a:1", Name: "n1"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rt.Count("Run"))
	assert.Len(t, rt.Requests(), 1)
}

func TestProcess(t *testing.T) {
	t.Parallel()

	rt := &Runtime{
		RunFn: func(context.Context, dockermanage.RunRequest) (dockermanage.Process, error) {
			return NewProcess(), nil
		},
	}
	proc, err := rt.Run(t.Context(), dockermanage.RunRequest{Image: "a:1", Name: "n1"})
	require.NoError(t, err)
	p := rt.Process("n1")
	require.NotNil(t, p)

	select {
	case <-p.Started():
		t.Fatal("process must not start until Start is called")
	default:
	}

	done := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(proc.Stdout())
		done <- b
	}()
	go func() { _, _ = io.Copy(io.Discard, proc.Stderr()) }()
	require.NoError(t, p.WriteStdout("hello\n"))

	require.NoError(t, proc.Kill())
	require.NoError(t, proc.Kill())
	<-proc.Exited()
	require.ErrorIs(t, proc.Err(), ErrKilled)
	assert.Equal(t, "hello\n", string(<-done))
	assert.Equal(t, 2, p.Kills())
	assert.Equal(t, 2, rt.Count("Kill"))
}
