// Package spanner registers the "spanner" service, running the Cloud Spanner emulator.
//
// Options: port, project, instance, dbname. The driver creates the instance and database on
// the emulator on first connect.
package spanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/googleapis/go-sql-spanner"
	"github.com/pressly/ephemeral/pkg/service"
)

const (
	// Name is the registry identifier.
	Name = "spanner"

	DefaultImage    = "gcr.io/cloud-spanner-emulator/emulator"
	DefaultTag      = "latest"
	DefaultProject  = "test-project"
	DefaultInstance = "test-instance"
	DefaultDatabase = "test-db"

	// KeyEmulatorHost is the value to export as SPANNER_EMULATOR_HOST for Google client libraries.
	KeyEmulatorHost = "emulator_host"

	grpcPort = 9010
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs the Spanner emulator.
type Spec struct {
	service.Base
	dsn     string
	address string
}

var _ service.Spec = (*Spec)(nil)

// New builds a Spec from opts. Only the gRPC port is published.
func New(opts service.Options) (*Spec, error) {
	port, err := service.HostPort(opts)
	if err != nil {
		return nil, err
	}
	var (
		project  = opts.Get("project", DefaultProject)
		instance = opts.Get("instance", DefaultInstance)
		database = opts.Get(service.KeyDBName, DefaultDatabase)
		address  = service.Address(port)
	)
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, database)
	dsn := address + "/" + dbPath + ";autoConfigEmulator=true"
	return &Spec{
		Base: service.Base{
			Image:   DefaultImage,
			Tag:     DefaultTag,
			Options: service.Publish(port, grpcPort),
			Data: service.ConnectionData{
				service.KeyHost:     service.DefaultHost,
				service.KeyPort:     port,
				service.KeyDBName:   dbPath,
				service.KeyConnInfo: dsn,
				KeyEmulatorHost:     address,
			},
		},
		dsn:     dsn,
		address: address,
	}, nil
}

// IsReady polls until the driver has provisioned the database and answers a ping. The port is
// dialed first because provisioning retries internally while the emulator is down.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return service.Poll(ctx, 0, func(ctx context.Context) error {
		if err := service.DialTCP(ctx, s.address); err != nil {
			return err
		}
		db, err := sql.Open("spanner", s.dsn)
		if err != nil {
			return err
		}
		return errors.Join(db.PingContext(ctx), db.Close())
	})
}
