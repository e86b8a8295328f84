package nats_test

import (
	"testing"

	"github.com/pressly/ephemeral/pkg/service"
	"github.com/pressly/ephemeral/pkg/service/nats"
	"github.com/pressly/ephemeral/pkg/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	spec, err := nats.New(service.Options{service.KeyPort: "14222"})
	require.NoError(t, err)
	servicetest.Contract(t, spec)

	assert.Equal(t, "nats", spec.ImageName())
	assert.Empty(t, spec.CommandAndArgs())
	assert.Equal(t, "nats://127.0.0.1:14222", spec.ConnectionData().String(service.KeyURL))
}

func TestNewWithAuth(t *testing.T) {
	t.Parallel()

	spec, err := nats.New(service.Options{service.KeyUser: "svc", service.KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--user", "svc", "--pass", "pw"}, spec.CommandAndArgs())
	assert.Equal(t, "svc", spec.ConnectionData().String(service.KeyUser))
}

func TestIsReadyUnreachable(t *testing.T) {
	t.Parallel()

	servicetest.NotReady(t, func(opts service.Options) (service.Spec, error) {
		return nats.New(opts)
	})
}
