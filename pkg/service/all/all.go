// Package all registers every built-in service.
//
//	import _ "github.com/pressly/ephemeral/pkg/service/all"
package all

import (
	_ "github.com/pressly/ephemeral/pkg/service/clickhouse"
	_ "github.com/pressly/ephemeral/pkg/service/elasticsearch"
	_ "github.com/pressly/ephemeral/pkg/service/mariadb"
	_ "github.com/pressly/ephemeral/pkg/service/mysql"
	_ "github.com/pressly/ephemeral/pkg/service/nats"
	_ "github.com/pressly/ephemeral/pkg/service/postgres"
	_ "github.com/pressly/ephemeral/pkg/service/spanner"
	_ "github.com/pressly/ephemeral/pkg/service/sqlserver"
	_ "github.com/pressly/ephemeral/pkg/service/turso"
	_ "github.com/pressly/ephemeral/pkg/service/vertica"
	_ "github.com/pressly/ephemeral/pkg/service/ydb"
)
