package service

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Base carries the static parts of a Spec. Service implementations embed it and add IsReady.
type Base struct {
	Image   string
	Tag     string
	Options []string
	Command []string
	Data    ConnectionData
}

func (b *Base) ImageName() string              { return b.Image }
func (b *Base) DefaultTag() string             { return b.Tag }
func (b *Base) ContainerOptions() []string     { return slices.Clone(b.Options) }
func (b *Base) CommandAndArgs() []string       { return slices.Clone(b.Command) }
func (b *Base) ConnectionData() ConnectionData { return maps.Clone(b.Data) }

// Publish returns the docker run flags that bind containerPort to hostPort on the loopback
// interface.
func Publish(hostPort, containerPort int) []string {
	return []string{"-p", DefaultHost + ":" + strconv.Itoa(hostPort) + ":" + strconv.Itoa(containerPort)}
}

// Env returns the docker run flags setting each KEY=VALUE pair, in the order given.
func Env(pairs ...string) []string {
	out := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		out = append(out, "-e", p)
	}
	return out
}

// HostPort returns the host port requested with the "port" option, or a free port when the
// option is unset.
func HostPort(opts Options) (int, error) {
	v := opts.Get(KeyPort, "")
	if v == "" {
		return FreePort()
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port must be in range 1-65535: %q", v)
	}
	return port, nil
}
