// Package mysql registers the "mysql" service.
//
// Options: user, password, dbname, port.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pressly/ephemeral/pkg/service"
)

const (
	// Name is the registry identifier.
	Name = "mysql"

	// https://hub.docker.com/_/mysql
	DefaultImage    = "mysql"
	DefaultTag      = "8.4"
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

// Spec runs MySQL.
type Spec struct {
	service.Base
	dsn string
}

var _ service.Spec = (*Spec)(nil)

// New builds a Spec from opts. The root password always matches the user password.
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
		"MYSQL_DATABASE=" + database,
		"MYSQL_ROOT_PASSWORD=" + password,
	}
	// The image rejects MYSQL_USER=root; root already exists.
	if user != "root" {
		env = append(env, "MYSQL_USER="+user, "MYSQL_PASSWORD="+password)
	}
	dsn := DSN(port, user, password, database)
	return &Spec{
		Base: service.Base{
			Image:   DefaultImage,
			Tag:     DefaultTag,
			Options: append(service.Publish(port, containerPort), service.Env(env...)...),
			Data:    connectionData(port, user, password, database, dsn),
		},
		dsn: dsn,
	}, nil
}

// DSN returns a go-sql-driver/mysql data source name for a server on the loopback interface.
func DSN(port int, user, password, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = service.Address(port)
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.Timeout = 5 * time.Second
	return cfg.FormatDSN()
}

func connectionData(port int, user, password, database, dsn string) service.ConnectionData {
	return service.ConnectionData{
		service.KeyHost:     service.DefaultHost,
		service.KeyPort:     port,
		service.KeyUser:     user,
		service.KeyPassword: password,
		service.KeyDBName:   database,
		service.KeyConnInfo: dsn,
	}
}

// IsReady polls until the server accepts a login and answers a ping.
func (s *Spec) IsReady(ctx context.Context, _ string) (bool, error) {
	return Ping(ctx, s.dsn)
}

// Ping polls dsn until a ping succeeds or ctx ends. It is shared by MySQL-compatible services.
func Ping(ctx context.Context, dsn string) (bool, error) {
	return service.Poll(ctx, time.Second, func(ctx context.Context) error {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return err
		}
		return errors.Join(db.PingContext(ctx), db.Close())
	})
}
