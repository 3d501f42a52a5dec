package pool

import (
	"context"
	"database/sql/driver"

	"github.com/xcxnig/cymysql"
)

// Open builds a Pool dialing through this module's own connector
// (mysql.NewConnector), so callers get the minsize/maxsize/pool_recycle/
// echo pool on top of the regular wire-protocol engine without
// depending on database/sql's pool (which has no minsize or recycle
// concept — spec.md section 4.8 asks for both).
func Open(ctx context.Context, dsn string, cfg Config) (*Pool, error) {
	dsnCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(dsnCfg)
	if err != nil {
		return nil, err
	}

	return New(ctx, cfg, func(ctx context.Context) (driver.Conn, error) {
		return connector.Connect(ctx)
	})
}
