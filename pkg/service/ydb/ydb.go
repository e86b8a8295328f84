// Package ydb registers the "ydb" service, running local-ydb with in-memory storage.
//
// Options: port.
package ydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pressly/ephemeral/pkg/service"
	"github.com/ydb-platform/ydb-go-sdk/v3"
	"github.com/ydb-platform/ydb-go-sdk/v3/balancers"
)

const (
	// Name is the registry identifier.
	Name = "ydb"

	DefaultImage    = "ghcr.io/ydb-platform/local-ydb"
	DefaultTag      = "24.1"
	DefaultDatabase = "local"

	grpcPort    = 2136
	monitorPort = 8765
)

func init() {
	service.Register(Name, func(opts service.Options) (service.Spec, error) {
		return New(opts)
	})
}

// Spec runs a single-node YDB.
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
	dsn := fmt.Sprintf("grpc://%s/%s", service.Address(port), DefaultDatabase)
	containerOpts := service.Publish(port, grpcPort)
	containerOpts = append(containerOpts, "-h", "localhost")
	containerOpts = append(containerOpts, service.Env(
		"YDB_USE_IN_MEMORY_PDISKS=true",
		"YDB_LOCAL_SURVIVE_RESTART=true",
		"YDB_DEFAULT_LOG_LEVEL=ERROR",
		"GRPC_PORT="+strconv.Itoa(grpcPort),
		"MON_PORT="+strconv.Itoa(monitorPort),
	)...)
	return &Spec{
		Base: service.Base{
			Image:   DefaultImage,
			Tag:     DefaultTag,
			Options: containerOpts,
			Data: service.ConnectionData{
				service.KeyHost:     service.DefaultHost,
				service.KeyPort:     port,
				service.KeyDBName:   DefaultDatabase,
				service.KeyConnInfo: dsn,
			},
		},
		dsn: dsn,
	}, nil
}

// IsReady polls until a database/sql connection through the native driver answers a ping. The
// single connection balancer keeps the probe on the published port instead of the endpoints
// the node advertises.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return service.Poll(ctx, time.Second, func(ctx context.Context) (retErr error) {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		nativeDriver, err := ydb.Open(attemptCtx, s.dsn, ydb.WithBalancer(balancers.SingleConn()))
		if err != nil {
			return err
		}
		defer func() {
			retErr = errors.Join(retErr, nativeDriver.Close(context.WithoutCancel(ctx)))
		}()
		connector, err := ydb.Connector(nativeDriver)
		if err != nil {
			return err
		}
		db := sql.OpenDB(connector)
		return errors.Join(db.PingContext(attemptCtx), db.Close())
	})
}
