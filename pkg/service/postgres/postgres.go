// Package postgres registers the "postgres" service.
//
// Options: user, password, dbname, port.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pressly/ephemeral/pkg/service"
)

const (
	// Name is the registry identifier.
	Name = "postgres"

	// https://hub.docker.com/_/postgres
	DefaultImage    = "postgres"
	DefaultTag      = "16-alpine"
	DefaultDatabase = "testdb"
	DefaultUser     = "postgres"
	DefaultPassword = "password1"

	containerPort = 5432
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs PostgreSQL and probes it with a real connection.
type Spec struct {
	service.Base
	dsn string
}

var _ service.Spec = (*Spec)(nil)

// New builds a Spec from opts.
func New(opts service.Options) (*Spec, error) {
	port, err := service.HostPort(opts)
	if err != nil {
		return nil, err
	}
	var (
		user     = opts.Get(service.KeyUser, DefaultUser)
		password = opts.Get(service.KeyPassword, DefaultPassword)
		database = opts.Get(service.KeyDBName, DefaultDatabase)
	)
	dsn := DSN(service.DefaultHost, port, user, password, database)
	containerOpts := service.Publish(port, containerPort)
	containerOpts = append(containerOpts, service.Env(
		"POSTGRES_DB="+database,
		"POSTGRES_USER="+user,
		"POSTGRES_PASSWORD="+password,
	)...)
	return &Spec{
		Base: service.Base{
			Image:   DefaultImage,
			Tag:     DefaultTag,
			Options: containerOpts,
			Data: service.ConnectionData{
				service.KeyHost:     service.DefaultHost,
				service.KeyPort:     port,
				service.KeyUser:     user,
				service.KeyPassword: password,
				service.KeyDBName:   database,
				service.KeyConnInfo: dsn,
			},
		},
		dsn: dsn,
	}, nil
}

// DSN returns a key/value connection string suitable for PostgreSQL drivers.
func DSN(host string, port int, user, password, database string) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host,
		port,
		user,
		password,
		database,
	)
}

// IsReady polls until a connection succeeds and the server answers a ping. A listening TCP port
// alone doesn't mean Postgres accepts queries yet.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return service.Poll(ctx, 0, func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, s.dsn)
		if err != nil {
			return err
		}
		return errors.Join(conn.Ping(ctx), conn.Close(ctx))
	})
}
