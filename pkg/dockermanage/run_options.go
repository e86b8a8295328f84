package dockermanage

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/moby/moby/api/types/network"
)

// RunSpec is the subset of docker run flags understood by the Engine API runtime.
type RunSpec struct {
	Env          []string
	Labels       map[string]string
	Hostname     string
	ExposedPorts network.PortSet
	PortBindings network.PortMap
	Tmpfs        map[string]string
}

// ParseRunOptions translates docker run flags into a [RunSpec]. Supported flags:
//
//	-e, --env KEY=VALUE | KEY
//	-p, --publish [ip:][hostPort:]containerPort[/proto]
//	-l, --label KEY=VALUE
//	-h, --hostname NAME
//	--tmpfs PATH[:OPTIONS]
//
// Both "--flag value" and "--flag=value" forms are accepted. Any other flag is an error, so a
// service whose options cannot be honored fails to start instead of starting misconfigured.
func ParseRunOptions(options []string) (*RunSpec, error) {
	spec := &RunSpec{
		Labels:       map[string]string{},
		ExposedPorts: network.PortSet{},
		PortBindings: network.PortMap{},
		Tmpfs:        map[string]string{},
	}
	for i := 0; i < len(options); i++ {
		flag, value, hasValue := strings.Cut(options[i], "=")
		if !strings.HasPrefix(flag, "-") {
			return nil, fmt.Errorf("unexpected container option %q", options[i])
		}
		if !hasValue {
			if i+1 >= len(options) {
				return nil, fmt.Errorf("container option %s requires a value", flag)
			}
			i++
			value = options[i]
		}
		var err error
		switch flag {
		case "-e", "--env":
			spec.Env = append(spec.Env, expandEnv(value))
		case "-p", "--publish":
			err = spec.publish(value)
		case "-l", "--label":
			key, val, _ := strings.Cut(value, "=")
			if strings.TrimSpace(key) == "" {
				err = fmt.Errorf("label key must not be empty: %q", value)
			}
			spec.Labels[key] = val
		case "-h", "--hostname":
			spec.Hostname = value
		case "--tmpfs":
			path, opts, _ := strings.Cut(value, ":")
			spec.Tmpfs[path] = opts
		default:
			err = fmt.Errorf("container option %s is not supported by the engine runtime", flag)
		}
		if err != nil {
			return nil, err
		}
	}
	return spec, nil
}

// expandEnv resolves a bare KEY from the local environment, like docker run does.
func expandEnv(value string) string {
	if strings.Contains(value, "=") {
		return value
	}
	return value + "=" + os.Getenv(value)
}

func (s *RunSpec) publish(value string) error {
	parts := strings.Split(value, ":")
	var hostIP, hostPort, containerPort string
	switch len(parts) {
	case 1:
		containerPort = parts[0]
	case 2:
		hostPort, containerPort = parts[0], parts[1]
	case 3:
		hostIP, hostPort, containerPort = parts[0], parts[1], parts[2]
	default:
		return fmt.Errorf("invalid publish spec %q", value)
	}
	if !strings.Contains(containerPort, "/") {
		containerPort += "/tcp"
	}
	port, err := network.ParsePort(containerPort)
	if err != nil {
		return fmt.Errorf("invalid container port in %q: %w", value, err)
	}
	binding := network.PortBinding{HostPort: hostPort}
	if hostIP != "" {
		addr, err := netip.ParseAddr(hostIP)
		if err != nil {
			return fmt.Errorf("invalid host IP in %q: %w", value, err)
		}
		binding.HostIP = addr
	}
	s.ExposedPorts[port] = struct{}{}
	s.PortBindings[port] = append(s.PortBindings[port], binding)
	return nil
}
