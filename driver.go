// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mysql is a MySQL/MariaDB wire-protocol client (spec.md
// OVERVIEW): a database/sql driver registered under the name "mysql",
// plus an async-style connection pool in the pool subpackage for callers
// that want to manage connections themselves.
//
//	import "database/sql"
//	import _ "github.com/xcxnig/cymysql"
//
//	db, err := sql.Open("mysql", "user:password@/dbname")
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"sync"
)

func init() {
	sql.Register("mysql", &MySQLDriver{})
}

// MySQLDriver implements driver.Driver and driver.DriverContext. It's
// exported so a caller can build a *connector directly via NewConnector
// instead of going through a DSN string.
type MySQLDriver struct{}

// Open parses dsn and dials a connection immediately, implementing
// driver.Driver. database/sql calls this when it needs a connection and
// the registered driver has no DriverContext.OpenConnector.
func (d MySQLDriver) Open(dsn string) (driver.Conn, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return (&connector{cfg: cfg}).Connect(context.Background())
}

// OpenConnector implements driver.DriverContext: database/sql calls this
// once per sql.Open and reuses the *connector for every subsequent dial,
// instead of re-parsing the DSN on each connection.
func (d MySQLDriver) OpenConnector(dsn string) (driver.Connector, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &connector{cfg: cfg}, nil
}

// NewConnector builds a driver.Connector from an already-constructed
// Config, for callers (e.g. pool.Open) that assemble a Config in code
// rather than formatting and re-parsing a DSN string.
func NewConnector(cfg *Config) (driver.Connector, error) {
	cfg = cfg.Clone()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &connector{cfg: cfg}, nil
}

// DialFunc dials the network address for a custom network registered
// via RegisterDial.
//
// Deprecated: register a DialContextFunc with RegisterDialContext instead,
// so dials respect the caller's context.
type DialFunc func(addr string) (net.Conn, error)

// DialContextFunc dials the network address for a custom network
// registered via RegisterDialContext, honoring ctx's deadline/cancellation.
type DialContextFunc func(ctx context.Context, addr string) (net.Conn, error)

var (
	dialsLock sync.RWMutex
	dials     map[string]DialContextFunc
)

// RegisterDialContext makes net available as a Config.Net value: Connect
// calls dial instead of net.Dialer.DialContext for that network name.
// Used for things like a custom proxy dialer or an in-memory pipe in
// tests.
func RegisterDialContext(net string, dial DialContextFunc) {
	dialsLock.Lock()
	defer dialsLock.Unlock()
	if dials == nil {
		dials = make(map[string]DialContextFunc)
	}
	dials[net] = dial
}

// RegisterDial is RegisterDialContext without context support.
//
// Deprecated: call RegisterDialContext instead.
func RegisterDial(network string, dial DialFunc) {
	RegisterDialContext(network, func(_ context.Context, addr string) (net.Conn, error) {
		return dial(addr)
	})
}
