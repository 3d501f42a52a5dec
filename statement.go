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
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// mysqlStmt is a prepared statement (spec.md section 4.9): a server-side
// statement id plus the client-side parameter/result metadata returned
// by COM_STMT_PREPARE.
type mysqlStmt struct {
	mc         *mysqlConn
	id         uint32
	paramCount int
	params     []mysqlField
	columns    []mysqlField
}

func (stmt *mysqlStmt) Close() error {
	if stmt.mc == nil || stmt.mc.closed.Load() {
		return driver.ErrBadConn
	}

	err := stmt.mc.writeCommandPacketUint32(comStmtClose, stmt.id)
	stmt.mc = nil
	return err
}

func (stmt *mysqlStmt) NumInput() int {
	return stmt.paramCount
}

func (stmt *mysqlStmt) ColumnConverter(idx int) driver.ValueConverter {
	return converter{}
}

func (stmt *mysqlStmt) Exec(args []driver.Value) (driver.Result, error) {
	if stmt.mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if err := stmt.mc.enterCommand(); err != nil {
		return nil, err
	}
	defer stmt.mc.leaveCommand()

	if err := stmt.writeExecutePacket(args); err != nil {
		return nil, err
	}

	mc := stmt.mc

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

	return &mysqlResult{
		affectedRows: int64(mc.affectedRows),
		insertId:     int64(mc.insertId),
	}, nil
}

func (stmt *mysqlStmt) Query(args []driver.Value) (driver.Rows, error) {
	return stmt.query(args)
}

func (stmt *mysqlStmt) query(args []driver.Value) (*binaryRows, error) {
	if stmt.mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if err := stmt.mc.enterCommand(); err != nil {
		return nil, err
	}

	if err := stmt.writeExecutePacket(args); err != nil {
		stmt.mc.leaveCommand()
		return nil, err
	}

	mc := stmt.mc

	resLen, err := mc.readResultSetHeaderPacket()
	if err != nil {
		mc.leaveCommand()
		return nil, err
	}

	rows := &binaryRows{mysqlRows: mysqlRows{mc: mc}}

	if resLen > 0 {
		rows.rs.columns, err = mc.readColumns(resLen)
		if err == nil && mc.flags&clientDeprecateEOF == 0 {
			err = mc.readUntilEOF()
		}
	} else {
		rows.rs.columns = stmt.columns
	}
	if err != nil {
		mc.leaveCommand()
		return nil, err
	}

	if fetchSize := mc.cfg.CursorFetchSize; fetchSize > 0 && mc.status&statusCursorExists != 0 {
		rows.stmt = stmt
		rows.fetchSize = uint32(fetchSize)
	}

	mc.setMode(modeReadingRows)
	return rows, nil
}

// fetch requests the next batch of a cursor-backed result set via
// COM_STMT_FETCH (spec.md section 9's SERVER_STATUS_CURSOR_EXISTS open
// question). A statement only reaches this path when Config.CursorFetchSize
// is non-zero and the server granted a cursor on Execute; otherwise the
// plain, non-paginated COM_STMT_EXECUTE result path is unaffected. The rows
// it streams back are read by binaryRows.readRow exactly like the initial
// batch, so fetch itself only needs to send the request.
func (stmt *mysqlStmt) fetch(rows *binaryRows, fetchSize uint32) error {
	mc := stmt.mc
	data, err := mc.buf.takeSmallBuffer(4 + 1 + 4 + 4)
	if err != nil {
		return errBadConnNoWrite
	}

	mc.sequence = 0
	data[4] = comStmtFetch
	binary.LittleEndian.PutUint32(data[5:9], stmt.id)
	binary.LittleEndian.PutUint32(data[9:13], fetchSize)

	return mc.writePacket(data)
}

// converter is the ValueConverter used for prepared-statement
// parameters; it accepts the same Go types interpolateParams accepts
// plus anything driver.DefaultParameterConverter already knows.
type converter struct{}

func (c converter) ConvertValue(v interface{}) (driver.Value, error) {
	if driver.IsValue(v) {
		return v, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return c.ConvertValue(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
	case reflect.String:
		return rv.String(), nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

// readPrepareResultPacket parses COM_STMT_PREPARE's response (spec.md
// section 4.9): a statement id plus the column/param counts needed to
// size the subsequent parameter-metadata and column-metadata reads.
// http://dev.mysql.com/doc/internals/en/com-stmt-prepare-response.html
func (stmt *mysqlStmt) readPrepareResultPacket() (uint16, error) {
	data, err := stmt.mc.readPacket()
	if err != nil {
		return 0, err
	}
	if data[0] != iOK {
		return 0, stmt.mc.handleErrorPacket(data)
	}

	stmt.id = binary.LittleEndian.Uint32(data[1:5])
	columnCount := binary.LittleEndian.Uint16(data[5:7])
	stmt.paramCount = int(binary.LittleEndian.Uint16(data[7:9]))
	// byte 9 is reserved, bytes 10-11 are a warning count neither the
	// teacher nor this client surfaces.
	return columnCount, nil
}

// writeCommandLongData streams one parameter's value via COM_STMT_SEND_LONG_DATA
// (spec.md 4.9), splitting it across packets no larger than maxAllowedPacket.
// http://dev.mysql.com/doc/internals/en/com-stmt-send-long-data.html
func (stmt *mysqlStmt) writeCommandLongData(paramID int, arg []byte) error {
	maxLen := stmt.mc.maxAllowedPacket - 1
	pktLen := maxLen

	// header layout after the 4-byte packet header: command (1) + stmt id
	// (4) + param id (2).
	const dataOffset = 1 + 4 + 2

	data := make([]byte, 4+dataOffset+len(arg))
	copy(data[4+dataOffset:], arg)

	for argLen := len(arg); argLen > 0; argLen -= pktLen - dataOffset {
		if dataOffset+argLen < maxLen {
			pktLen = dataOffset + argLen
		}

		stmt.mc.sequence = 0
		data[4] = comStmtSendLongData
		data[5] = byte(stmt.id)
		data[6] = byte(stmt.id >> 8)
		data[7] = byte(stmt.id >> 16)
		data[8] = byte(stmt.id >> 24)
		data[9] = byte(paramID)
		data[10] = byte(paramID >> 8)

		if err := stmt.mc.writePacket(data[:4+pktLen]); err != nil {
			return err
		}
		data = data[pktLen-dataOffset:]
	}

	stmt.mc.sequence = 0
	return nil
}

// writeExecutePacket encodes COM_STMT_EXECUTE (spec.md 4.9): the fixed
// header, a NULL bitmap, a type tag per parameter, and each parameter's
// binary-protocol-encoded value, switching to writeCommandLongData once a
// string/[]byte value crosses longDataSize.
// http://dev.mysql.com/doc/internals/en/com-stmt-execute.html
func (stmt *mysqlStmt) writeExecutePacket(args []driver.Value) error {
	if len(args) != stmt.paramCount {
		return fmt.Errorf("argument count mismatch (got: %d; has: %d)", len(args), stmt.paramCount)
	}

	const minPktLen = 4 + 1 + 4 + 1 + 4
	mc := stmt.mc

	// Determine threshold dynamically to avoid packet size shortage.
	longDataSize := mc.maxAllowedPacket / (stmt.paramCount + 1)
	if longDataSize < defaultLongDataSizeFloor {
		longDataSize = defaultLongDataSizeFloor
	}

	mc.sequence = 0

	var data []byte
	var err error

	if len(args) == 0 {
		data, err = mc.buf.takeBuffer(minPktLen)
	} else {
		data, err = mc.buf.takeCompleteBuffer()
		// here len(data) == cap(data), which the append-growth path below relies on.
	}
	if err != nil {
		errLog.Print(err)
		return errBadConnNoWrite
	}

	data[4] = comStmtExecute
	data[5] = byte(stmt.id)
	data[6] = byte(stmt.id >> 8)
	data[7] = byte(stmt.id >> 16)
	data[8] = byte(stmt.id >> 24)

	// flags [1 byte]: the only place a caller's cursor request (Config.CursorFetchSize)
	// reaches the wire.
	if mc.cfg.CursorFetchSize > 0 {
		data[9] = cursorTypeReadOnly
	} else {
		data[9] = cursorTypeNoCursor
	}

	// iteration_count (uint32(1)) [4 bytes]
	data[10] = 0x01
	data[11] = 0x00
	data[12] = 0x00
	data[13] = 0x00

	if len(args) > 0 {
		pos := minPktLen

		var nullMask []byte
		if maskLen, typesLen := (len(args)+7)/8, 1+2*len(args); pos+maskLen+typesLen >= cap(data) {
			// The buffer must grow, but by an amount hard to predict with a lot
			// of columns, so fall back to append once the fixed-size fields fit.
			tmp := make([]byte, pos+maskLen+typesLen)
			copy(tmp[:pos], data[:pos])
			data = tmp
			nullMask = data[pos : pos+maskLen]
			pos += maskLen
		} else {
			nullMask = data[pos : pos+maskLen]
			for i := range nullMask {
				nullMask[i] = 0
			}
			pos += maskLen
		}

		// new_params_bind_flag [1 byte]
		data[pos] = 0x01
		pos++

		paramTypes := data[pos:]
		pos += len(args) * 2

		paramValues := data[pos:pos]
		valuesCap := cap(paramValues)

		for i, arg := range args {
			if arg == nil {
				nullMask[i/8] |= 1 << (uint(i) & 7)
				paramTypes[i+i] = byte(fieldTypeNULL)
				paramTypes[i+i+1] = 0x00
				continue
			}

			if v, ok := arg.(json.RawMessage); ok {
				arg = []byte(v)
			}

			switch v := arg.(type) {
			case int64:
				paramTypes[i+i] = byte(fieldTypeLongLong)
				paramTypes[i+i+1] = 0x00
				if cap(paramValues)-len(paramValues)-8 >= 0 {
					paramValues = paramValues[:len(paramValues)+8]
					binary.LittleEndian.PutUint64(paramValues[len(paramValues)-8:], uint64(v))
				} else {
					paramValues = append(paramValues, uint64ToBytes(uint64(v))...)
				}

			case uint64:
				paramTypes[i+i] = byte(fieldTypeLongLong)
				paramTypes[i+i+1] = 0x80 // unsigned
				if cap(paramValues)-len(paramValues)-8 >= 0 {
					paramValues = paramValues[:len(paramValues)+8]
					binary.LittleEndian.PutUint64(paramValues[len(paramValues)-8:], v)
				} else {
					paramValues = append(paramValues, uint64ToBytes(v)...)
				}

			case float64:
				paramTypes[i+i] = byte(fieldTypeDouble)
				paramTypes[i+i+1] = 0x00
				if cap(paramValues)-len(paramValues)-8 >= 0 {
					paramValues = paramValues[:len(paramValues)+8]
					binary.LittleEndian.PutUint64(paramValues[len(paramValues)-8:], math.Float64bits(v))
				} else {
					paramValues = append(paramValues, uint64ToBytes(math.Float64bits(v))...)
				}

			case bool:
				paramTypes[i+i] = byte(fieldTypeTiny)
				paramTypes[i+i+1] = 0x00
				if v {
					paramValues = append(paramValues, 0x01)
				} else {
					paramValues = append(paramValues, 0x00)
				}

			case []byte:
				if v != nil {
					paramTypes[i+i] = byte(fieldTypeString)
					paramTypes[i+i+1] = 0x00
					if len(v) < longDataSize {
						paramValues = appendLengthEncodedInteger(paramValues, uint64(len(v)))
						paramValues = append(paramValues, v...)
					} else if err := stmt.writeCommandLongData(i, v); err != nil {
						return err
					}
					continue
				}
				// []byte(nil) is a NULL value
				nullMask[i/8] |= 1 << (uint(i) & 7)
				paramTypes[i+i] = byte(fieldTypeNULL)
				paramTypes[i+i+1] = 0x00

			case string:
				paramTypes[i+i] = byte(fieldTypeString)
				paramTypes[i+i+1] = 0x00
				if len(v) < longDataSize {
					paramValues = appendLengthEncodedInteger(paramValues, uint64(len(v)))
					paramValues = append(paramValues, v...)
				} else if err := stmt.writeCommandLongData(i, []byte(v)); err != nil {
					return err
				}

			case time.Time:
				paramTypes[i+i] = byte(fieldTypeString)
				paramTypes[i+i+1] = 0x00

				var a [64]byte
				b := a[:0]
				if v.IsZero() {
					b = append(b, "0000-00-00"...)
				} else {
					b, err = appendDateTime(b, v.In(mc.cfg.Loc))
					if err != nil {
						return err
					}
				}
				paramValues = appendLengthEncodedInteger(paramValues, uint64(len(b)))
				paramValues = append(paramValues, b...)

			default:
				return fmt.Errorf("cannot convert type: %T", arg)
			}
		}

		// the values buffer grew past what the packet buffer had reserved:
		// rebuild the packet around the grown slice.
		if valuesCap != cap(paramValues) {
			data = append(data[:pos], paramValues...)
			if err = mc.buf.store(data); err != nil {
				errLog.Print(err)
				return errBadConnNoWrite
			}
		}

		pos += len(paramValues)
		data = data[:pos]
	}

	return mc.writePacket(data)
}
