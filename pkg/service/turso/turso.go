// Package turso registers the "turso" service, a libsql-server reached over HTTP.
//
// Options: port.
package turso

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pressly/ephemeral/pkg/service"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

const (
	// Name is the registry identifier.
	Name = "turso"

	DefaultImage = "ghcr.io/tursodatabase/libsql-server"
	DefaultTag   = "v0.24.7"

	containerPort = 8080
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs libsql-server.
type Spec struct {
	service.Base
	url string
}

var _ service.Spec = (*Spec)(nil)

// New builds a Spec from opts.
func New(opts service.Options) (*Spec, error) {
	port, err := service.HostPort(opts)
	if err != nil {
		return nil, err
	}
	url := "http://" + service.Address(port)
	containerOpts := service.Publish(port, containerPort)
	containerOpts = append(containerOpts, service.Env("RUST_LOG=error")...)
	return &Spec{
		Base: service.Base{
			Image:   DefaultImage,
			Tag:     DefaultTag,
			Options: containerOpts,
			Data: service.ConnectionData{
				service.KeyHost:     service.DefaultHost,
				service.KeyPort:     port,
				service.KeyURL:      url,
				service.KeyConnInfo: url,
			},
		},
		url: url,
	}, nil
}

// IsReady polls until the server answers a query.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return service.Poll(ctx, 0, func(ctx context.Context) error {
		db, err := sql.Open("libsql", s.url)
		if err != nil {
			return err
		}
		var result int
		err = db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
		return errors.Join(err, db.Close())
	})
}
