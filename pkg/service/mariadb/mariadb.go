// Package mariadb registers the "mariadb" service. It speaks the MySQL protocol and reuses the
// mysql service's driver setup.
//
// Options: user, password, dbname, port.
package mariadb

import (
	"context"

	"github.com/pressly/ephemeral/pkg/service"
	"github.com/pressly/ephemeral/pkg/service/mysql"
)

const (
	// Name is the registry identifier.
	Name = "mariadb"

	// https://hub.docker.com/_/mariadb
	DefaultImage    = "mariadb"
	DefaultTag      = "11"
	DefaultDatabase = "testdb"
	DefaultUser     = "tester"
	DefaultPassword = "password1"

	containerPort = 3306
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs MariaDB.
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
	env := []string{
		"MARIADB_DATABASE=" + database,
		"MARIADB_ROOT_PASSWORD=" + password,
	}
	if user != "root" {
		env = append(env, "MARIADB_USER="+user, "MARIADB_PASSWORD="+password)
	}
	dsn := mysql.DSN(port, user, password, database)
	return &Spec{
		Base: service.Base{
			Image:   DefaultImage,
			Tag:     DefaultTag,
			Options: append(service.Publish(port, containerPort), service.Env(env...)...),
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

// IsReady polls until the server accepts a login and answers a ping.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return mysql.Ping(ctx, s.dsn)
}
