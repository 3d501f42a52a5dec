// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"bytes"
	"crypto/tls"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"time"
)

// Packets documentation:
// http://dev.mysql.com/doc/internals/en/client-server-protocol.html
//
// This file holds the two halves of the wire that every other packet type
// in this package builds on: the 4-byte-header framer (readPacket/
// writePacket, spec.md section 4.2) and the v10 handshake exchange that
// opens a connection (spec.md section 4.3/6). Command packets, OK/ERR/EOF
// parsing and row decoding live in command.go/rows.go/statement.go; the
// auth-plugin exchange lives in auth.go.

// readPacket reads one logical packet off the wire, reassembling it if the
// server split it into maxPacketSize (2^24-1 byte) chunks: a chunk of
// exactly that length always implies another chunk follows, terminated by
// either a shorter chunk or (if the whole payload was itself a multiple of
// maxPacketSize) a zero-length chunk.
func (mc *mysqlConn) readPacket() ([]byte, error) {
	var prevData []byte
	for {
		header, err := mc.buf.readNext(4)
		if err != nil {
			if cerr := mc.canceled.Value(); cerr != nil {
				return nil, cerr
			}
			errLog.Print(err)
			mc.Close()
			return nil, ErrInvalidConn
		}

		pktLen := int(uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16)

		if header[3] != mc.sequence {
			if header[3] > mc.sequence {
				return nil, ErrPktSyncMul
			}
			return nil, ErrPktSync
		}
		mc.sequence++

		if pktLen == 0 {
			// A zero-length packet only terminates a split payload; on its
			// own it means the previous read desynced.
			if prevData == nil {
				errLog.Print(ErrMalformPkt)
				mc.Close()
				return nil, ErrInvalidConn
			}
			return prevData, nil
		}

		data, err := mc.buf.readNext(pktLen)
		if err != nil {
			if cerr := mc.canceled.Value(); cerr != nil {
				return nil, cerr
			}
			errLog.Print(err)
			mc.Close()
			return nil, ErrInvalidConn
		}

		if pktLen < maxPacketSize {
			if prevData == nil {
				return data, nil
			}
			return append(prevData, data...), nil
		}

		prevData = append(prevData, data...)
	}
}

// writePacket sends data, whose first 4 bytes are reserved for the header
// this function fills in, splitting it into maxPacketSize chunks as
// needed. data[:4] is overwritten on every loop iteration, once per chunk.
func (mc *mysqlConn) writePacket(data []byte) error {
	pktLen := len(data) - 4
	if pktLen > mc.maxAllowedPacket {
		return ErrPktTooLarge
	}

	// A connection just checked out of the pool gets one liveness check
	// before its first write: a fresh connection is the most likely to
	// have gone stale server-side, and nothing has been written yet, so
	// ErrBadConn here is safe for database/sql to retry on a new conn.
	if mc.reset {
		mc.reset = false
		conn := mc.netConn
		if mc.rawConn != nil {
			conn = mc.rawConn
		}
		var err error
		if mc.cfg.ReadTimeout != 0 {
			// undo the read deadline so the non-blocking liveness probe
			// below isn't immediately timed out by the scheduler
			err = conn.SetReadDeadline(time.Time{})
		}
		if err == nil && mc.cfg.CheckConnLiveness {
			err = connCheck(conn)
		}
		if err != nil {
			errLog.Print("closing bad idle connection: ", err)
			mc.Close()
			return driver.ErrBadConn
		}
	}

	for {
		var size int
		if pktLen >= maxPacketSize {
			data[0] = 0xff
			data[1] = 0xff
			data[2] = 0xff
			size = maxPacketSize
		} else {
			data[0] = byte(pktLen)
			data[1] = byte(pktLen >> 8)
			data[2] = byte(pktLen >> 16)
			size = pktLen
		}
		data[3] = mc.sequence

		if mc.writeTimeout > 0 {
			if err := mc.netConn.SetWriteDeadline(time.Now().Add(mc.writeTimeout)); err != nil {
				return err
			}
		}

		n, err := mc.netConn.Write(data[:4+size])
		if err == nil && n == 4+size {
			mc.sequence++
			if size != maxPacketSize {
				return nil
			}
			pktLen -= size
			data = data[size:]
			continue
		}

		if err == nil { // n != len(data): a short write with no error
			mc.cleanup()
			errLog.Print(ErrMalformPkt)
		} else {
			if cerr := mc.canceled.Value(); cerr != nil {
				return cerr
			}
			if n == 0 && pktLen == len(data)-4 {
				// nothing was written on the very first chunk
				return errBadConnNoWrite
			}
			mc.cleanup()
			errLog.Print(err)
		}
		return ErrInvalidConn
	}
}

/******************************************************************************
*                           Initialization Process                            *
******************************************************************************/

// readHandshakePacket parses the server's initial handshake (Protocol::
// Handshake v10, spec.md section 4.3): capability flags, the scramble
// used to seed the auth plugin's challenge, and the plugin name itself.
// http://dev.mysql.com/doc/internals/en/connection-phase-packets.html#packet-Protocol::Handshake
func (mc *mysqlConn) readHandshakePacket() (data []byte, plugin string, err error) {
	data, err = mc.readPacket()
	if err != nil {
		// Rewritten to ErrBadConn so database/sql retries: nothing
		// non-idempotent has happened yet during connection setup.
		if err == ErrInvalidConn {
			return nil, "", driver.ErrBadConn
		}
		return
	}

	if data[0] == iERR {
		return nil, "", mc.handleErrorPacket(data)
	}

	if data[0] < minProtocolVersion {
		return nil, "", fmt.Errorf(
			"unsupported protocol version %d. Version %d or higher is required",
			data[0], minProtocolVersion,
		)
	}

	// server version [NUL-terminated string], connection id [4 bytes]
	pos := 1 + bytes.IndexByte(data[1:], 0x00) + 1 + 4

	// first 8 bytes of the auth-plugin scramble
	authData := data[pos : pos+8]
	pos += 8 + 1 // filler byte, always 0x00

	mc.flags = clientFlag(binary.LittleEndian.Uint16(data[pos : pos+2]))
	if mc.flags&clientProtocol41 == 0 {
		return nil, "", ErrOldProtocol
	}
	if mc.flags&clientSSL == 0 && mc.cfg.tls != nil {
		if mc.cfg.TLSConfig == "preferred" {
			mc.cfg.tls = nil
		} else {
			return nil, "", ErrNoTLS
		}
	}
	pos += 2

	if len(data) <= pos {
		var b [8]byte
		copy(b[:], authData)
		return b[:], plugin, nil
	}

	// charset [1], status flags [2], capability flags upper half [2],
	// auth-plugin-data length [1], reserved [10]
	pos += 1 + 2 + 2 + 1 + 10

	// Second half of the scramble: a NUL-terminated string at least 13
	// bytes long (mysql-5.7 sql/auth/sql_authentication.cc line 538), of
	// which only the first 12 are scramble bytes.
	authData = append(authData, data[pos:pos+12]...)
	pos += 13

	if end := bytes.IndexByte(data[pos:], 0x00); end != -1 {
		plugin = string(data[pos : pos+end])
	} else {
		plugin = string(data[pos:])
	}

	var b [20]byte
	copy(b[:], authData)
	return b[:], plugin, nil
}

// writeHandshakeResponsePacket builds and sends Protocol::HandshakeResponse41
// (spec.md section 4.3/6): the negotiated capability flags, the auth
// response the plugin already computed, and the target database name. It
// also performs the mid-handshake TLS upgrade (SSLRequest) when the config
// calls for TLS.
// http://dev.mysql.com/doc/internals/en/connection-phase-packets.html#packet-Protocol::HandshakeResponse
func (mc *mysqlConn) writeHandshakeResponsePacket(authResp []byte, plugin string) error {
	clientFlags := clientProtocol41 |
		clientSecureConn |
		clientLongPassword |
		clientTransactions |
		clientLocalFiles |
		clientPluginAuth |
		clientMultiResults |
		mc.flags&clientLongFlag

	if mc.cfg.ClientFoundRows {
		clientFlags |= clientFoundRows
	}
	if mc.cfg.tls != nil {
		clientFlags |= clientSSL
	}
	if mc.cfg.MultiStatements {
		clientFlags |= clientMultiStatements
	}
	if mc.cfg.Compress != "" && mc.cfg.Compress != "none" && mc.flags&clientCompress != 0 {
		clientFlags |= clientCompress
	}

	// Record what's actually being negotiated now: connector.go's
	// post-auth compression wiring and rows.go's clientDeprecateEOF
	// checks both read mc.flags, so it must reflect the response we're
	// about to send rather than the server's raw advertisement.
	mc.flags = clientFlags

	var authRespLEIBuf [9]byte
	authRespLEI := appendLengthEncodedInteger(authRespLEIBuf[:0], uint64(len(authResp)))
	if len(authRespLEI) > 1 {
		// a 1-byte length can't hold this, so it's written length-encoded
		clientFlags |= clientPluginAuthLenEncClientData
	}

	pktLen := 4 + 4 + 1 + 23 + len(mc.cfg.User) + 1 + len(authRespLEI) + len(authResp) + 21 + 1
	if n := len(mc.cfg.DBName); n > 0 {
		clientFlags |= clientConnectWithDB
		pktLen += n + 1
	}

	data, err := mc.buf.takeSmallBuffer(pktLen + 4)
	if err != nil {
		errLog.Print(err)
		return errBadConnNoWrite
	}

	// ClientFlags [32 bit]
	data[4] = byte(clientFlags)
	data[5] = byte(clientFlags >> 8)
	data[6] = byte(clientFlags >> 16)
	data[7] = byte(clientFlags >> 24)

	// MaxPacketSize [32 bit] (unset: no client-side cap advertised)
	data[8] = 0x00
	data[9] = 0x00
	data[10] = 0x00
	data[11] = 0x00

	var found bool
	data[12], found = collations[mc.cfg.Collation]
	if !found {
		return fmt.Errorf("mysql: unknown collation %q", mc.cfg.Collation)
	}

	pos := 13
	for ; pos < 13+23; pos++ {
		data[pos] = 0 // reserved filler
	}

	// SSLRequest: send the truncated packet, then upgrade the socket
	// before writing the rest of the handshake response over TLS.
	// http://dev.mysql.com/doc/internals/en/connection-phase-packets.html#packet-Protocol::SSLRequest
	if mc.cfg.tls != nil {
		if err := mc.writePacket(data[:(4+4+1+23)+4]); err != nil {
			return err
		}

		tlsConn := tls.Client(mc.netConn, mc.cfg.tls)
		if err := tlsConn.Handshake(); err != nil {
			return err
		}
		mc.rawConn = mc.netConn
		mc.netConn = tlsConn
		mc.buf.nc = tlsConn
	}

	if len(mc.cfg.User) > 0 {
		pos += copy(data[pos:], mc.cfg.User)
	}
	data[pos] = 0x00
	pos++

	pos += copy(data[pos:], authRespLEI)
	pos += copy(data[pos:], authResp)

	if len(mc.cfg.DBName) > 0 {
		pos += copy(data[pos:], mc.cfg.DBName)
		data[pos] = 0x00
		pos++
	}

	pos += copy(data[pos:], plugin)
	data[pos] = 0x00
	pos++

	return mc.writePacket(data[:pos])
}
