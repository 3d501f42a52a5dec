// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"database/sql/driver"
	"encoding/binary"
)

// Command packets (spec.md section 4.3): a one-byte command id optionally
// followed by a string or uint32 argument, always starting a fresh
// sequence id.

func (mc *mysqlConn) writeCommandPacket(command byte) error {
	mc.sequence = 0

	data, err := mc.buf.takeSmallBuffer(4 + 1)
	if err != nil {
		errLog.Print(err)
		return errBadConnNoWrite
	}

	data[4] = command
	return mc.writePacket(data)
}

func (mc *mysqlConn) writeCommandPacketStr(command byte, arg string) error {
	mc.sequence = 0

	pktLen := 1 + len(arg)
	data, err := mc.buf.takeBuffer(pktLen + 4)
	if err != nil {
		errLog.Print(err)
		return errBadConnNoWrite
	}

	data[4] = command
	copy(data[5:], arg)
	return mc.writePacket(data)
}

func (mc *mysqlConn) writeCommandPacketUint32(command byte, arg uint32) error {
	mc.sequence = 0

	data, err := mc.buf.takeSmallBuffer(4 + 1 + 4)
	if err != nil {
		errLog.Print(err)
		return errBadConnNoWrite
	}

	data[4] = command
	data[5] = byte(arg)
	data[6] = byte(arg >> 8)
	data[7] = byte(arg >> 16)
	data[8] = byte(arg >> 24)
	return mc.writePacket(data)
}

// readResultOK reads a single OK/ERR packet, with no result set expected
// (spec.md section 4.4): the reply to COM_PING, to the last auth step,
// and to a LOCAL INFILE upload.
func (mc *mysqlConn) readResultOK() error {
	data, err := mc.readPacket()
	if err != nil {
		return err
	}

	if data[0] == iOK {
		return mc.handleOkPacket(data)
	}
	return mc.handleErrorPacket(data)
}

// readResultSetHeaderPacket reads the header of a COM_QUERY response: OK,
// ERR, a LOCAL INFILE request, or a column count (spec.md section 4.4).
// http://dev.mysql.com/doc/internals/en/com-query-response.html#packet-ProtocolText::Resultset
func (mc *mysqlConn) readResultSetHeaderPacket() (int, error) {
	data, err := mc.readPacket()
	if err != nil {
		return 0, err
	}

	switch data[0] {
	case iOK:
		return 0, mc.handleOkPacket(data)
	case iERR:
		return 0, mc.handleErrorPacket(data)
	case iLocalInFile:
		return 0, mc.handleInFileRequest(string(data[1:]))
	}

	num, _, n := readLengthEncodedInteger(data)
	if n-len(data) == 0 {
		return int(num), nil
	}
	return 0, ErrMalformPkt
}

// handleErrorPacket converts an ERR packet (spec.md section 4.4) to a
// *MySQLError, special-casing a read-only failover so database/sql
// discards rather than reuses the connection.
// http://dev.mysql.com/doc/internals/en/generic-response-packets.html#packet-ERR_Packet
func (mc *mysqlConn) handleErrorPacket(data []byte) error {
	if data[0] != iERR {
		return ErrMalformPkt
	}

	errno := binary.LittleEndian.Uint16(data[1:3])

	// ER_CANT_EXECUTE_IN_READ_ONLY_TRANSACTION / ER_OPTION_PREVENTS_STATEMENT
	// (the latter returned by Aurora during failover).
	if (errno == 1792 || errno == 1290) && mc.cfg.RejectReadOnly {
		mc.Close()
		return driver.ErrBadConn
	}

	pos := 3
	if data[3] == 0x23 { // SQL state marker
		pos = 9
	}

	return &MySQLError{
		Number:  errno,
		Message: string(data[pos:]),
	}
}

func readStatus(b []byte) statusFlag {
	return statusFlag(b[0]) | statusFlag(b[1])<<8
}

// handleOkPacket parses an OK packet's affected-rows/insert-id/status
// fields onto the connection (spec.md section 4.4).
// http://dev.mysql.com/doc/internals/en/generic-response-packets.html#packet-OK_Packet
func (mc *mysqlConn) handleOkPacket(data []byte) error {
	var n, m int

	mc.affectedRows, _, n = readLengthEncodedInteger(data[1:])
	mc.insertId, _, m = readLengthEncodedInteger(data[1+n:])
	mc.status = readStatus(data[1+n+m : 1+n+m+2])
	return nil
}

// readUntilEOF discards packets up to and including the next EOF or ERR
// packet, used to skip a column or row block the caller won't consume.
func (mc *mysqlConn) readUntilEOF() error {
	for {
		data, err := mc.readPacket()
		if err != nil {
			return err
		}

		switch data[0] {
		case iERR:
			return mc.handleErrorPacket(data)
		case iEOF:
			if len(data) == 5 {
				mc.status = readStatus(data[3:])
			}
			return nil
		}
	}
}

// discardResults drains any result sets the caller didn't read, following
// the SERVER_MORE_RESULTS_EXISTS chain (spec.md section 9's multi-statement
// support) so the connection is idle-ready for the next command.
func (mc *mysqlConn) discardResults() error {
	for mc.status&statusMoreResultsExists != 0 {
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
	}
	return nil
}
