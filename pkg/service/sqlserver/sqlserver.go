// Package sqlserver registers the "sqlserver" service.
//
// Options: password, dbname, port. The user is always "sa".
package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/pressly/ephemeral/pkg/service"
)

const (
	// Name is the registry identifier.
	Name = "sqlserver"

	// https://hub.docker.com/_/microsoft-mssql-server
	DefaultImage    = "mcr.microsoft.com/mssql/server"
	DefaultTag      = "2022-latest"
	DefaultDatabase = "master"
	DefaultPassword = "Password123!"

	user          = "sa"
	containerPort = 1433
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs Microsoft SQL Server.
type Spec struct {
	service.Base
	dsn string
}

var _ service.Spec = (*Spec)(nil)

// New builds a Spec from opts. The password must satisfy the SQL Server complexity policy or
// the container exits during startup.
func New(opts service.Options) (*Spec, error) {
	port, err := service.HostPort(opts)
	if err != nil {
		return nil, err
	}
	var (
		password = opts.Get(service.KeyPassword, DefaultPassword)
		database = opts.Get(service.KeyDBName, DefaultDatabase)
	)
	dsn := (&url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(user, password),
		Host:     service.Address(port),
		RawQuery: url.Values{"database": {database}}.Encode(),
	}).String()
	containerOpts := service.Publish(port, containerPort)
	containerOpts = append(containerOpts, service.Env(
		"ACCEPT_EULA=Y",
		"MSSQL_SA_PASSWORD="+password,
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

// IsReady polls until a login succeeds. SQL Server takes longer than most to start.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return service.Poll(ctx, 2*time.Second, func(ctx context.Context) error {
		db, err := sql.Open("sqlserver", s.dsn)
		if err != nil {
			return err
		}
		return errors.Join(db.PingContext(ctx), db.Close())
	})
}
