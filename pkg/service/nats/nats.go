// Package nats registers the "nats" service.
//
// Options: port, user, password. Authentication is enabled only when both user and password
// are set.
package nats

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pressly/ephemeral/pkg/service"
)

const (
	// Name is the registry identifier.
	Name = "nats"

	// https://hub.docker.com/_/nats
	DefaultImage = "nats"
	DefaultTag   = "2.10-alpine"

	containerPort = 4222
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs a single NATS server.
type Spec struct {
	service.Base
	url     string
	options []nats.Option
}

var _ service.Spec = (*Spec)(nil)

// New builds a Spec from opts.
func New(opts service.Options) (*Spec, error) {
	port, err := service.HostPort(opts)
	if err != nil {
		return nil, err
	}
	url := "nats://" + service.Address(port)
	data := service.ConnectionData{
		service.KeyHost:     service.DefaultHost,
		service.KeyPort:     port,
		service.KeyURL:      url,
		service.KeyConnInfo: url,
	}
	natsOpts := []nats.Option{
		nats.Name("ephemeral-readiness"),
		nats.Timeout(2 * time.Second),
		nats.NoReconnect(),
	}
	var command []string
	user, password := opts.Get(service.KeyUser, ""), opts.Get(service.KeyPassword, "")
	if user != "" && password != "" {
		command = []string{"--user", user, "--pass", password}
		natsOpts = append(natsOpts, nats.UserInfo(user, password))
		data[service.KeyUser] = user
		data[service.KeyPassword] = password
	}
	return &Spec{
		Base: service.Base{
			Image:   DefaultImage,
			Tag:     DefaultTag,
			Options: service.Publish(port, containerPort),
			Command: command,
			Data:    data,
		},
		url:     url,
		options: natsOpts,
	}, nil
}

// IsReady polls until a client connects and a flush round-trips to the server.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return service.Poll(ctx, 250*time.Millisecond, func(ctx context.Context) error {
		nc, err := nats.Connect(s.url, s.options...)
		if err != nil {
			return err
		}
		defer nc.Close()
		// FlushWithContext needs a deadline.
		flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return nc.FlushWithContext(flushCtx)
	})
}
