// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"context"
	"database/sql/driver"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// connMode tracks the five states of spec.md section 3's Connection data
// model: Idle, Command, Reading-Rows, In-LocalInfile, Closed. A caller
// holds exclusive access to a connection until its result is fully
// consumed or the connection closes — concurrent commands on the same
// connection are forbidden and detected as ErrConnectionBusy.
type connMode int32

const (
	modeIdle connMode = iota
	modeCommand
	modeReadingRows
	modeInLocalInfile
	modeClosed
)

// mysqlConn is the protocol engine's Connection (spec.md section 3): the
// duplex byte stream, negotiated capability flags, sequence id, server
// metadata, auth plugin name, compression/TLS state and current mode.
type mysqlConn struct {
	buf              buffer
	netConn          net.Conn
	rawConn          net.Conn // underlying connection if netConn is TLS or compressed
	affectedRows     uint64
	insertId         uint64
	cfg              *Config
	maxAllowedPacket int
	maxWriteSize     int
	writeTimeout     time.Duration
	flags            clientFlag
	status           statusFlag
	sequence         byte
	parseTime        bool
	reset            bool // set when the connection was reset from the pool

	compress    bool
	compressSeq byte

	serverVersion string
	connectionID  uint32
	authPlugin    string
	lastAuthData  []byte

	mode int32 // connMode, accessed atomically for ConnectionBusy detection

	closech  chan struct{}
	watcher  chan context.Context
	finished chan struct{}
	canceled atomicError // set non-nil if the query was canceled
	closed   atomicBool  // set when the connection has been closed
}

// ------------------------------------------------------------------------
// Small atomics used by context cancellation plumbing
// ------------------------------------------------------------------------

type atomicError struct {
	v atomic.Value
}

func (a *atomicError) Set(err error) { a.v.Store(wrappedErr{err}) }
func (a *atomicError) Value() error {
	v := a.v.Load()
	if v == nil {
		return nil
	}
	return v.(wrappedErr).err
}

type wrappedErr struct{ err error }

type atomicBool struct{ v int32 }

func (b *atomicBool) Set(value bool) {
	if value {
		atomic.StoreInt32(&b.v, 1)
	} else {
		atomic.StoreInt32(&b.v, 0)
	}
}
func (b *atomicBool) Load() bool { return atomic.LoadInt32(&b.v) > 0 }

// ------------------------------------------------------------------------
// Mode / busy detection
// ------------------------------------------------------------------------

func (mc *mysqlConn) enterCommand() error {
	if !atomic.CompareAndSwapInt32(&mc.mode, int32(modeIdle), int32(modeCommand)) {
		cur := connMode(atomic.LoadInt32(&mc.mode))
		if cur == modeClosed {
			return driver.ErrBadConn
		}
		return ErrConnectionBusy
	}
	mc.sequence = 0
	return nil
}

func (mc *mysqlConn) leaveCommand() {
	atomic.StoreInt32(&mc.mode, int32(modeIdle))
}

func (mc *mysqlConn) setMode(m connMode) {
	atomic.StoreInt32(&mc.mode, int32(m))
}

// ------------------------------------------------------------------------
// Context-cancellation watcher (sync reads/writes, async-cancel support)
// ------------------------------------------------------------------------

// startWatcher starts a goroutine that closes the connection's netConn
// when either closech fires (explicit Close) or a watched context is
// canceled, so a blocking read/write unblocks promptly. This is the
// "suspension at exactly the socket read/write/TLS boundary" behavior
// spec.md section 5 asks the async variant to provide — in Go, the
// runtime netpoller already gives us that for free, so one engine serves
// both the sync and async/pool-driven call paths (see DESIGN.md).
func (mc *mysqlConn) startWatcher() {
	watcher := make(chan context.Context, 1)
	mc.watcher = watcher
	finished := make(chan struct{})
	mc.finished = finished
	go func() {
		for {
			var ctx context.Context
			select {
			case ctx = <-watcher:
			case <-mc.closech:
				return
			}

			select {
			case <-ctx.Done():
				mc.cancel(ctx.Err())
			case <-finished:
			case <-mc.closech:
				return
			}
		}
	}()
}

func (mc *mysqlConn) watchCancel(ctx context.Context) error {
	if mc.closed.Load() {
		return driver.ErrBadConn
	}
	if ctx.Done() == nil {
		return nil
	}
	select {
	case mc.watcher <- ctx:
	default:
	}
	return nil
}

func (mc *mysqlConn) finish() {
	select {
	case mc.finished <- struct{}{}:
	case <-mc.closech:
	}
}

func (mc *mysqlConn) cancel(err error) {
	mc.canceled.Set(err)
	mc.cleanup()
}

// cleanup closes the network connection without sending COM_QUIT,
// transitioning the connection to Closed (spec.md section 7: fatal
// errors transition the connection to Closed).
func (mc *mysqlConn) cleanup() {
	if !mc.closed.Load() {
		mc.closed.Set(true)
		mc.setMode(modeClosed)
		close(mc.closech)
		if mc.netConn != nil {
			mc.netConn.Close()
		}
	}
}

// Close implements driver.Conn. It sends COM_QUIT if the connection is
// still usable, then cleans up.
func (mc *mysqlConn) Close() (err error) {
	if !mc.closed.Load() {
		err = mc.writeCommandPacket(comQuit)
	}
	mc.cleanup()
	return
}

func (mc *mysqlConn) error() error {
	if mc.closed.Load() {
		if err := mc.canceled.Value(); err != nil {
			return err
		}
		return ErrInvalidConn
	}
	return nil
}

// ------------------------------------------------------------------------
// driver.Conn / driver.ExecerContext / driver.QueryerContext
// ------------------------------------------------------------------------

func (mc *mysqlConn) Prepare(query string) (driver.Stmt, error) {
	return mc.prepare(query)
}

func (mc *mysqlConn) prepare(query string) (*mysqlStmt, error) {
	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if err := mc.enterCommand(); err != nil {
		return nil, err
	}
	defer mc.leaveCommand()

	if err := mc.writeCommandPacketStr(comStmtPrepare, query); err != nil {
		return nil, err
	}

	stmt := &mysqlStmt{mc: mc}
	columnCount, err := stmt.readPrepareResultPacket()
	if err != nil {
		return nil, err
	}

	if stmt.paramCount > 0 {
		if stmt.params, err = mc.readColumns(stmt.paramCount); err != nil {
			return nil, err
		}
	}

	if columnCount > 0 {
		if stmt.columns, err = mc.readColumns(int(columnCount)); err != nil {
			return nil, err
		}
	}

	return stmt, nil
}

func (mc *mysqlConn) Begin() (driver.Tx, error) {
	return mc.begin(false)
}

func (mc *mysqlConn) begin(readOnly bool) (driver.Tx, error) {
	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	query := "START TRANSACTION"
	if readOnly {
		query = "START TRANSACTION READ ONLY"
	}
	if err := mc.exec(query); err != nil {
		return nil, err
	}
	return &mysqlTx{mc}, nil
}

type mysqlTx struct{ mc *mysqlConn }

func (tx *mysqlTx) Commit() error {
	if tx.mc == nil || tx.mc.closed.Load() {
		return ErrInvalidConn
	}
	err := tx.mc.exec("COMMIT")
	tx.mc = nil
	return err
}

func (tx *mysqlTx) Rollback() error {
	if tx.mc == nil || tx.mc.closed.Load() {
		return ErrInvalidConn
	}
	err := tx.mc.exec("ROLLBACK")
	tx.mc = nil
	return err
}

// exec runs a query to completion for internal use (handleParams, Tx,
// Ping) where no result rows are expected back from the caller.
func (mc *mysqlConn) exec(query string) error {
	if err := mc.enterCommand(); err != nil {
		return err
	}
	defer mc.leaveCommand()

	if err := mc.writeCommandPacketStr(comQuery, query); err != nil {
		return err
	}

	resLen, err := mc.readResultSetHeaderPacket()
	if err != nil {
		return err
	}
	if resLen > 0 {
		if err := mc.readUntilEOF(); err != nil {
			return err
		}
		if err := mc.readUntilEOF(); err != nil {
			return err
		}
	}
	return mc.discardResults()
}

func (mc *mysqlConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if len(args) != 0 {
		prepared, err := interpolateParams(query, args, mc.cfg.Loc)
		if err != nil {
			return nil, err
		}
		query = prepared
	}

	if err := mc.enterCommand(); err != nil {
		return nil, err
	}
	defer mc.leaveCommand()

	if err := mc.writeCommandPacketStr(comQuery, query); err != nil {
		return nil, err
	}

	resLen, err := mc.readResultSetHeaderPacket()
	if err != nil {
		return nil, err
	}
	if resLen > 0 {
		if err := mc.readUntilEOF(); err != nil {
			return nil, err
		}
		if err := mc.readUntilEOF(); err != nil {
			return nil, err
		}
	}
	if err := mc.discardResults(); err != nil {
		return nil, err
	}
	return &mysqlResult{affectedRows: int64(mc.affectedRows), insertId: int64(mc.insertId)}, nil
}

func (mc *mysqlConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return mc.query(query, args)
}

func (mc *mysqlConn) query(query string, args []driver.Value) (*textRows, error) {
	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if len(args) != 0 {
		prepared, err := interpolateParams(query, args, mc.cfg.Loc)
		if err != nil {
			return nil, err
		}
		query = prepared
	}

	if err := mc.enterCommand(); err != nil {
		return nil, err
	}

	if err := mc.writeCommandPacketStr(comQuery, query); err != nil {
		mc.leaveCommand()
		return nil, err
	}

	resLen, err := mc.readResultSetHeaderPacket()
	if err != nil {
		mc.leaveCommand()
		return nil, err
	}

	rows := &textRows{mysqlRows: mysqlRows{mc: mc}}
	rows.rs.columns, err = mc.readColumns(resLen)
	if err == nil && (mc.flags&clientDeprecateEOF == 0) {
		err = mc.readUntilEOF()
	}
	if err != nil {
		mc.leaveCommand()
		return nil, err
	}
	mc.setMode(modeReadingRows)
	return rows, nil
}

// Ping implements driver.Pinger. Used both by database/sql and by the
// async pool's health check before handing out a recycled connection
// (spec.md section 4.8).
func (mc *mysqlConn) Ping(ctx context.Context) error {
	if mc.closed.Load() {
		return driver.ErrBadConn
	}
	if err := mc.watchCancel(ctx); err != nil {
		return err
	}
	defer mc.finish()

	if err := mc.enterCommand(); err != nil {
		return err
	}
	defer mc.leaveCommand()

	if err := mc.writeCommandPacket(comPing); err != nil {
		return err
	}
	return mc.readResultOK()
}

func (mc *mysqlConn) ResetSession(ctx context.Context) error {
	if mc.closed.Load() {
		return driver.ErrBadConn
	}
	mc.reset = true
	return nil
}

func (mc *mysqlConn) IsValid() bool {
	return !mc.closed.Load()
}

// ------------------------------------------------------------------------
// Post-handshake setup
// ------------------------------------------------------------------------

// getSystemVar reads a server system variable via COM_QUERY SELECT
// @@<name>, used by connector.go to determine max_allowed_packet when
// Config.MaxAllowedPacket is zero.
func (mc *mysqlConn) getSystemVar(name string) ([]byte, error) {
	if err := mc.enterCommand(); err != nil {
		return nil, err
	}
	defer mc.leaveCommand()

	if err := mc.writeCommandPacketStr(comQuery, "SELECT @@"+name); err != nil {
		return nil, err
	}

	if resLen, err := mc.readResultSetHeaderPacket(); err == nil {
		rows := &textRows{mysqlRows: mysqlRows{mc: mc}}
		rows.rs.columns = []mysqlField{{fieldType: fieldTypeVarChar}}

		if resLen > 0 {
			if err := mc.readUntilEOF(); err != nil {
				return nil, err
			}
		}

		dest := make([]driver.Value, resLen)
		if err = rows.readRow(dest); err == nil {
			return dest[0].([]byte), mc.readUntilEOF()
		}
	}
	return nil, nil
}

// handleParams sends SET NAMES/sql_mode/init_command (spec.md
// SPEC_FULL.md "Supplemented features") immediately after authentication
// completes, before the connection is handed back to the caller.
func (mc *mysqlConn) handleParams() (err error) {
	charsetName := charsetFromCollation(mc.cfg.Collation)
	if err = mc.exec("SET NAMES " + charsetName); err != nil {
		return err
	}

	if mc.cfg.SQLMode != "" {
		if err = mc.exec("SET sql_mode='" + mc.cfg.SQLMode + "'"); err != nil {
			return err
		}
	}

	for param, val := range mc.cfg.Params {
		if err = mc.exec("SET " + param + "=" + val); err != nil {
			return err
		}
	}

	if mc.cfg.InitCommand != "" {
		if err = mc.exec(mc.cfg.InitCommand); err != nil {
			return err
		}
	}
	return nil
}

// interpolateParams substitutes "?" placeholders in query with args,
// client-side, for the non-prepared (text protocol) path — spec.md
// section 1's Non-goals explicitly limit SQL handling to exactly this.
func interpolateParams(query string, args []driver.Value, loc *time.Location) (string, error) {
	if strCountByte(query, '?') != len(args) {
		return "", driver.ErrSkip
	}

	var buf []byte
	argPos := 0
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '?' {
			buf = append(buf, c)
			continue
		}
		arg := args[argPos]
		argPos++

		switch v := arg.(type) {
		case nil:
			buf = append(buf, "NULL"...)
		case int64:
			buf = strconv.AppendInt(buf, v, 10)
		case uint64:
			buf = strconv.AppendUint(buf, v, 10)
		case float64:
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		case bool:
			if v {
				buf = append(buf, '1')
			} else {
				buf = append(buf, '0')
			}
		case time.Time:
			buf = append(buf, '\'')
			b, err := appendDateTime(nil, v.In(loc))
			if err != nil {
				return "", err
			}
			buf = append(buf, escapeBytesBackslash(nil, b)...)
			buf = append(buf, '\'')
		case []byte:
			if v == nil {
				buf = append(buf, "NULL"...)
			} else {
				buf = append(buf, '\'')
				buf = escapeBytesBackslash(buf, v)
				buf = append(buf, '\'')
			}
		case string:
			buf = append(buf, '\'')
			buf = escapeStringBackslash(buf, v)
			buf = append(buf, '\'')
		default:
			return "", driver.ErrSkip
		}
	}
	return string(buf), nil
}

func strCountByte(s string, b byte) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			n++
		}
	}
	return n
}

func escapeBytesBackslash(buf, v []byte) []byte {
	for _, c := range v {
		switch c {
		case 0:
			buf = append(buf, '\\', '0')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\\', '\'', '"':
			buf = append(buf, '\\', c)
		case 26:
			buf = append(buf, '\\', 'Z')
		default:
			buf = append(buf, c)
		}
	}
	return buf
}

func escapeStringBackslash(buf []byte, v string) []byte {
	return escapeBytesBackslash(buf, []byte(v))
}
