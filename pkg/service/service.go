// Package service defines the capability interface implemented by every supported service
// (postgres, mysql, nats, ...) and the registry used to resolve a service identifier.
//
// Service packages register themselves in init, so importing one for side effects makes it
// available by name:
//
//	import _ "github.com/pressly/ephemeral/pkg/service/postgres"
//
// Import [github.com/pressly/ephemeral/pkg/service/all] to register every service.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
)

// ErrUnknownService is returned by [Lookup] when no service is registered under the identifier.
var ErrUnknownService = errors.New("unknown service")

// Standard connection data keys. Services add their own keys where useful.
const (
	KeyHost     = "host"
	KeyPort     = "port"
	KeyUser     = "user"
	KeyPassword = "password"
	KeyDBName   = "dbname"
	KeyConnInfo = "conninfo"
	KeyURL      = "url"
)

// Spec describes how to run one service container and how to tell when it is ready. A Spec is
// immutable once built.
type Spec interface {
	// ImageName is the image repository, e.g. "postgres".
	ImageName() string
	// DefaultTag is used when the caller does not request a tag.
	DefaultTag() string
	// ContainerOptions are docker run flags, e.g. port mappings and environment.
	ContainerOptions() []string
	// CommandAndArgs are passed after the image reference.
	CommandAndArgs() []string
	// IsReady reports whether the service accepts work. It is called once per readiness attempt
	// and owns any polling it needs; it must return when ctx is done.
	IsReady(ctx context.Context, containerName string) (bool, error)
	// ConnectionData is handed to the test body once the service is ready.
	ConnectionData() ConnectionData
}

// ConnectionData holds the values needed to connect to a running service.
type ConnectionData map[string]any

// String returns the value for key formatted as a string, or "" if absent.
func (c ConnectionData) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the value for key as an int, or 0 if absent or not numeric.
func (c ConnectionData) Int(key string) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Host returns the "host" value.
func (c ConnectionData) Host() string { return c.String(KeyHost) }

// Port returns the "port" value.
func (c ConnectionData) Port() int { return c.Int(KeyPort) }

// ConnInfo returns the combined connection string.
func (c ConnectionData) ConnInfo() string { return c.String(KeyConnInfo) }

// Options are caller-supplied settings for a service, such as "user" or "password". Each service
// documents the keys it understands.
type Options map[string]string

// Get returns the value for key, or def if it is unset or empty.
func (o Options) Get(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Factory builds a Spec from caller options.
type Factory func(opts Options) (Spec, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a service available by name. It panics if called twice with the same name or
// with a nil factory.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if factory == nil {
		panic("service: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("service: Register called twice for service " + name)
	}
	factories[name] = factory
}

// Lookup builds the Spec registered under name.
func Lookup(name string, opts Options) (Spec, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	spec, err := factory(maps.Clone(opts))
	if err != nil {
		return nil, fmt.Errorf("configure service %q: %w", name, err)
	}
	return spec, nil
}

// Names returns the sorted names of all registered services.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}
