// Package servicetest holds shared checks for service implementations.
package servicetest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/pressly/ephemeral/pkg/dockermanage"
	"github.com/pressly/ephemeral/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NotReadyTimeout bounds the probe in [NotReady].
const NotReadyTimeout = 500 * time.Millisecond

// Contract checks the static parts of spec: an image and tag are set, the container options are
// understood by the engine runtime, and the connection data carries a host and port.
func Contract(t *testing.T, spec service.Spec) {
	t.Helper()

	assert.NotEmpty(t, spec.ImageName(), "image name")
	assert.NotEmpty(t, spec.DefaultTag(), "default tag")
	_, err := dockermanage.ParseRunOptions(spec.ContainerOptions())
	require.NoError(t, err, "container options must be supported by the engine runtime")

	data := spec.ConnectionData()
	assert.NotEmpty(t, data.Host(), "connection data host")
	assert.Positive(t, data.Port(), "connection data port")
}

// NotReady builds a spec bound to a port nothing listens on and checks that its probe resolves
// false once its context ends.
func NotReady(t *testing.T, factory service.Factory) {
	t.Helper()

	port, err := service.FreePort()
	require.NoError(t, err)
	spec, err := factory(service.Options{service.KeyPort: strconv.Itoa(port)})
	require.NoError(t, err)
	Contract(t, spec)

	ctx, cancel := context.WithTimeout(t.Context(), NotReadyTimeout)
	defer cancel()
	done := make(chan bool, 1)
	go func() {
		ready, _ := spec.IsReady(ctx, "ephemeral-unreachable")
		done <- ready
	}()
	select {
	case ready := <-done:
		assert.False(t, ready, "probe against a closed port must not report ready")
	case <-time.After(NotReadyTimeout + 10*time.Second):
		t.Fatal("probe did not return after its context ended")
	}
}
