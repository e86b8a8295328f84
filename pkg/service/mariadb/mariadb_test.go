package mariadb_test

import (
	"testing"

	"github.com/pressly/ephemeral/pkg/service"
	"github.com/pressly/ephemeral/pkg/service/mariadb"
	"github.com/pressly/ephemeral/pkg/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	spec, err := mariadb.New(service.Options{service.KeyPort: "13307", service.KeyDBName: "shop"})
	require.NoError(t, err)
	servicetest.Contract(t, spec)

	assert.Equal(t, "mariadb", spec.ImageName())
	assert.Contains(t, spec.ContainerOptions(), "MARIADB_DATABASE=shop")
	assert.Contains(t, spec.ContainerOptions(), "127.0.0.1:13307:3306")
	assert.Contains(t, spec.ConnectionData().ConnInfo(), "@tcp(127.0.0.1:13307)/shop?")
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	assert.Contains(t, service.Names(), mariadb.Name)
	assert.Contains(t, service.Names(), "mysql", "importing mariadb registers mysql too")
}

func TestIsReadyUnreachable(t *testing.T) {
	t.Parallel()

	servicetest.NotReady(t, func(opts service.Options) (service.Spec, error) {
		return mariadb.New(opts)
	})
}
