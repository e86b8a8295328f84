// Package vertica registers the "vertica" service, running the Community Edition image.
//
// Options: dbname, port. The user is "dbadmin" without a password.
package vertica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/ephemeral/pkg/service"
	_ "github.com/vertica/vertica-sql-go"
)

const (
	// Name is the registry identifier.
	Name = "vertica"

	// https://hub.docker.com/r/vertica/vertica-ce
	DefaultImage    = "vertica/vertica-ce"
	DefaultTag      = "24.1.0-0"
	DefaultDatabase = "testdb"

	user          = "dbadmin"
	containerPort = 5433
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs Vertica.
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
	database := opts.Get(service.KeyDBName, DefaultDatabase)
	dsn := fmt.Sprintf("vertica://%s:@%s/%s", user, service.Address(port), database)
	containerOpts := service.Publish(port, containerPort)
	containerOpts = append(containerOpts, service.Env(
		"VERTICA_DB_NAME="+database,
		// Skip loading the VMart sample data.
		"VMART_ETL_SCRIPT=",
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
				service.KeyPassword: "",
				service.KeyDBName:   database,
				service.KeyConnInfo: dsn,
			},
		},
		dsn: dsn,
	}, nil
}

// IsReady polls until the database accepts connections.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return service.Poll(ctx, 2*time.Second, func(ctx context.Context) error {
		db, err := sql.Open("vertica", s.dsn)
		if err != nil {
			return fmt.Errorf("open vertica connection: %w", err)
		}
		if err := errors.Join(db.PingContext(ctx), db.Close()); err != nil {
			return fmt.Errorf("ping vertica: %w", err)
		}
		return nil
	})
}
