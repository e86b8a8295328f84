package dockermanage

import (
	"net/netip"
	"testing"
	"time"

	"github.com/moby/moby/api/types/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  RunRequest
		want []string
	}{
		{
			name: "minimal",
			req:  RunRequest{Image: "postgres:16-alpine", Name: "ephemeral-postgres-1"},
			want: []string{
				"run", "-t", "--rm",
				"--label", ManagedLabelKey + "=",
				"--name", "ephemeral-postgres-1", "postgres:16-alpine",
			},
		},
		{
			name: "options labels and command",
			req: RunRequest{
				Image:   "nats:2.10-alpine",
				Name:    "n1",
				Options: []string{"-p", "127.0.0.1:4222:4222", "-e", "A=B"},
				Command: []string{"--user", "u"},
				Labels:  map[string]string{ManagedLabelKey: "nats", "team": "db"},
			},
			want: []string{
				"run", "-t", "--rm",
				"-p", "127.0.0.1:4222:4222", "-e", "A=B",
				"--label", ManagedLabelKey + "=nats",
				"--label", "team=db",
				"--name", "n1", "nats:2.10-alpine",
				"--user", "u",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, runArgs(tt.req))
		})
	}
}

func TestRunRequestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, RunRequest{Image: "a:1", Name: "b"}.validate())
	require.Error(t, RunRequest{Name: "b"}.validate())
	require.Error(t, RunRequest{Image: "a:1", Name: " "}.validate())
}

func TestParseRunOptions(t *testing.T) {
	t.Setenv("DOCKERMANAGE_TEST_PASSTHROUGH", "secret")

	spec, err := ParseRunOptions([]string{
		"-e", "POSTGRES_USER=tester",
		"--env=POSTGRES_DB=testdb",
		"-e", "DOCKERMANAGE_TEST_PASSTHROUGH",
		"-p", "127.0.0.1:5433:5432",
		"--publish", "9000/udp",
		"-l", "team=db",
		"--hostname=localhost",
		"--tmpfs", "/var/lib/data:rw,size=64m",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"POSTGRES_USER=tester",
		"POSTGRES_DB=testdb",
		"DOCKERMANAGE_TEST_PASSTHROUGH=secret",
	}, spec.Env)
	assert.Equal(t, map[string]string{"team": "db"}, spec.Labels)
	assert.Equal(t, "localhost", spec.Hostname)
	assert.Equal(t, map[string]string{"/var/lib/data": "rw,size=64m"}, spec.Tmpfs)

	tcp, err := network.ParsePort("5432/tcp")
	require.NoError(t, err)
	udp, err := network.ParsePort("9000/udp")
	require.NoError(t, err)
	assert.Contains(t, spec.ExposedPorts, tcp)
	assert.Contains(t, spec.ExposedPorts, udp)
	assert.Equal(t, []network.PortBinding{{
		HostIP:   netip.MustParseAddr("127.0.0.1"),
		HostPort: "5433",
	}}, spec.PortBindings[tcp])
	assert.Equal(t, []network.PortBinding{{}}, spec.PortBindings[udp])
}

func TestParseRunOptionsErrors(t *testing.T) {
	t.Parallel()

	for name, options := range map[string][]string{
		"unsupported flag": {"-v", "/tmp:/data"},
		"missing value":    {"-e"},
		"positional":       {"postgres"},
		"bad host ip":      {"-p", "localhost:1:2"},
		"bad port":         {"-p", "abc"},
		"too many colons":  {"-p", "1:2:3:4"},
		"empty label key":  {"-l", "=x"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseRunOptions(options)
			require.Error(t, err)
		})
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	_, err := NewCLI(WithBinary(" "))
	require.Error(t, err)
	_, err = NewCLI(WithLogger(nil))
	require.Error(t, err)
	_, err = NewCLI(WithStartPollInterval(0))
	require.Error(t, err)

	c, err := NewCLI(WithBinary("/usr/bin/podman"), WithStartPollInterval(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/podman", c.binary)
	assert.Equal(t, time.Second, c.startPollInterval)
}
