// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2013 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"errors"
	"fmt"
	"log"
	"os"
)

// Sentinel errors grouped by the protocol phase that raises them
// (spec.md section 7). Exported ones are part of this package's stable
// surface; callers match them with errors.Is.

// framing errors: desynced packet sequence ids, corrupt lengths, or a
// payload too large for the negotiated max_allowed_packet.
var (
	ErrInvalidConn = errors.New("invalid connection")
	ErrMalformPkt  = errors.New("malformed packet")
	ErrPktSync     = errors.New("commands out of sync. You can't run this command now")
	ErrPktSyncMul  = errors.New("commands out of sync. Did you run multiple statements at once?")
	ErrPktTooLarge = errors.New("packet for query is too large. Try adjusting the 'max_allowed_packet' variable on the server")
	ErrBusyBuffer  = errors.New("busy buffer")
)

// handshake/auth errors: the server or the negotiated plugin rejected
// something about how this client tried to authenticate.
var (
	ErrNoTLS             = errors.New("TLS requested but server does not support TLS")
	ErrCleartextPassword = errors.New("this user requires clear text authentication. If you still want to use it, please add 'allowCleartextPasswords=1' to your DSN")
	ErrNativePassword    = errors.New("this user requires mysql native password authentication")
	ErrOldPassword       = errors.New("this user requires old password authentication. If you still want to use it, please add 'allowOldPasswords=1' to your DSN")
	ErrUnknownPlugin     = errors.New("this authentication plugin is not supported")
	ErrOldProtocol       = errors.New("MySQL server does not support required protocol 41+")
)

// caller-misuse errors: the connection itself is fine, but the request
// conflicts with its current state or a local policy.
var (
	ErrConnectionBusy    = errors.New("mysql: connection busy, a previous command has not finished")
	ErrLocalInfileDenied = errors.New("mysql: local infile request denied by policy")
)

// errBadConnNoWrite marks a connection failure that happened before any
// bytes reached the server. A caller starting a fresh command can
// substitute driver.ErrBadConn for it so database/sql retries on a new
// connection instead of surfacing the error.
var errBadConnNoWrite = errors.New("bad connection")

var errLog = Logger(log.New(os.Stderr, "[mysql] ", log.Ldate|log.Ltime|log.Lshortfile))

// Logger is used to log critical error messages.
type Logger interface {
	Print(v ...interface{})
}

// SetLogger is used to set the logger for critical errors.
// The initial logger writes to os.Stderr.
func SetLogger(logger Logger) error {
	if logger == nil {
		return errors.New("logger is nil")
	}
	errLog = logger
	return nil
}

// MySQLError is an error type which represents a single error returned
// by the server. It is the ServerError kind of spec.md section 7: not
// fatal for the connection unless the server also closed the socket.
type MySQLError struct {
	Number   uint16
	SQLState [5]byte
	Message  string
}

func (me *MySQLError) Error() string {
	if me.SQLState != [5]byte{} {
		return fmt.Sprintf("Error %d (%s): %s", me.Number, me.SQLState, me.Message)
	}
	return fmt.Sprintf("Error %d: %s", me.Number, me.Message)
}
