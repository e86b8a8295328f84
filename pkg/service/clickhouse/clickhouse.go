// Package clickhouse registers the "clickhouse" service, reached over the native TCP protocol.
//
// Options: user, password, dbname, port.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/ephemeral/pkg/service"
)

const (
	// Name is the registry identifier.
	Name = "clickhouse"

	// https://hub.docker.com/r/clickhouse/clickhouse-server/
	DefaultImage    = "clickhouse/clickhouse-server"
	DefaultTag      = "24-alpine"
	DefaultDatabase = "clickdb"
	DefaultUser     = "clickuser"
	DefaultPassword = "password1"

	// Port 8123 serves HTTP; the driver uses the native protocol on 9000.
	containerPort = 9000
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs ClickHouse.
type Spec struct {
	service.Base
	options *clickhouse.Options
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
		address  = service.Address(port)
	)
	containerOpts := service.Publish(port, containerPort)
	containerOpts = append(containerOpts, service.Env(
		"CLICKHOUSE_DB="+database,
		"CLICKHOUSE_USER="+user,
		"CLICKHOUSE_PASSWORD="+password,
		"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT=1",
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
				service.KeyConnInfo: fmt.Sprintf("clickhouse://%s:%s@%s/%s", user, password, address, database),
			},
		},
		options: &clickhouse.Options{
			Addr: []string{address},
			Auth: clickhouse.Auth{
				Database: database,
				Username: user,
				Password: password,
			},
			DialTimeout: 5 * time.Second,
			Compression: &clickhouse.Compression{
				Method: clickhouse.CompressionLZ4,
			},
		},
	}, nil
}

// IsReady polls until the server answers a ping with the configured credentials.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return service.Poll(ctx, 0, func(ctx context.Context) error {
		db := clickhouse.OpenDB(s.options)
		return errors.Join(db.PingContext(ctx), db.Close())
	})
}
