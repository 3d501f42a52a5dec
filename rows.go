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
	"fmt"
	"io"
)

// resultSet is one result set's column metadata and end-of-rows marker
// (spec.md section 4's Rows-in-flight state). A multi-statement query
// (spec.md section 9 supplemented feature) chains several of these
// through mysqlRows.rs.
type resultSet struct {
	columns []mysqlField
	done    bool
}

// mysqlRows is embedded by textRows/binaryRows; it carries the shared
// driver.Rows plumbing (Columns/Close/NextResultSet) while each variant
// supplies its own readRow decoder (spec.md 4.6/4.7: text vs binary
// protocol row encodings).
type mysqlRows struct {
	mc *mysqlConn
	rs resultSet
}

type textRows struct{ mysqlRows }

// binaryRows additionally tracks the prepared statement and batch size it
// was opened with, so readRow can request the next COM_STMT_FETCH batch
// instead of reporting io.EOF when the server granted a cursor
// (spec.md section 9's SERVER_STATUS_CURSOR_EXISTS open question).
type binaryRows struct {
	mysqlRows
	stmt      *mysqlStmt
	fetchSize uint32
}

func (rows *mysqlRows) Columns() []string {
	columns := make([]string, len(rows.rs.columns))
	if rows.mc != nil && rows.mc.cfg.ColumnsWithAlias {
		for i := range columns {
			if tableName := rows.rs.columns[i].tableName; len(tableName) > 0 {
				columns[i] = tableName + "." + rows.rs.columns[i].name
			} else {
				columns[i] = rows.rs.columns[i].name
			}
		}
	} else {
		for i := range columns {
			columns[i] = rows.rs.columns[i].name
		}
	}
	return columns
}

func (rows *mysqlRows) ColumnTypeDatabaseTypeName(i int) string {
	return rows.rs.columns[i].typeDatabaseName()
}

func (rows *mysqlRows) ColumnTypeNullable(i int) (nullable, ok bool) {
	return rows.rs.columns[i].flags&flagNotNULL == 0, true
}

func (rows *mysqlRows) Close() error {
	mc := rows.mc
	if mc == nil {
		return nil
	}
	defer func() {
		rows.mc = nil
	}()

	if mc.closed.Load() {
		return ErrInvalidConn
	}

	// Remove unread rows left on the wire so the connection can be reused.
	err := mc.readUntilEOF()
	if err == nil {
		if err = mc.discardResults(); err != nil {
			return err
		}
	}
	mc.leaveCommand()
	mc.setMode(modeIdle)
	return err
}

// HasNextResultSet reports whether another result set follows, i.e. the
// SERVER_MORE_RESULTS_EXISTS flag is set — used for multi-statement
// queries (spec.md section 9 supplemented feature).
func (rows *mysqlRows) HasNextResultSet() bool {
	if rows.mc == nil {
		return false
	}
	return rows.mc.status&statusMoreResultsExists != 0
}

func (rows *textRows) HasNextResultSet() bool { return rows.mysqlRows.HasNextResultSet() }

func (rows *textRows) NextResultSet() error {
	if rows.mc == nil {
		return io.EOF
	}
	mc := rows.mc
	rows.rs = resultSet{}

	resLen, err := mc.readResultSetHeaderPacket()
	if err != nil {
		rows.mc = nil
		return err
	}
	if resLen == 0 {
		return io.EOF
	}

	rows.rs.columns, err = mc.readColumns(resLen)
	if err == nil && mc.flags&clientDeprecateEOF == 0 {
		err = mc.readUntilEOF()
	}
	return err
}

func (rows *binaryRows) HasNextResultSet() bool { return rows.mysqlRows.HasNextResultSet() }

func (rows *binaryRows) NextResultSet() error {
	if rows.mc == nil {
		return io.EOF
	}
	mc := rows.mc
	rows.rs = resultSet{}

	resLen, err := mc.readResultSetHeaderPacket()
	if err != nil {
		rows.mc = nil
		return err
	}
	if resLen == 0 {
		return io.EOF
	}

	rows.rs.columns, err = mc.readColumns(resLen)
	if err == nil && mc.flags&clientDeprecateEOF == 0 {
		err = mc.readUntilEOF()
	}
	return err
}

func (rows *textRows) Next(dest []driver.Value) error {
	if rows.mc == nil {
		return io.EOF
	}
	if rows.mc.closed.Load() {
		return ErrInvalidConn
	}
	return rows.readRow(dest)
}

func (rows *binaryRows) Next(dest []driver.Value) error {
	if rows.mc == nil {
		return io.EOF
	}
	if rows.mc.closed.Load() {
		return ErrInvalidConn
	}
	return rows.readRow(dest)
}

// readColumns parses count ColumnDefinition41 packets (spec.md 4.5) into
// the result set's column metadata, stopping at the terminating EOF.
func (mc *mysqlConn) readColumns(count int) ([]mysqlField, error) {
	columns := make([]mysqlField, count)

	for i := 0; ; i++ {
		data, err := mc.readPacket()
		if err != nil {
			return nil, err
		}

		if data[0] == iEOF && (len(data) == 5 || len(data) == 1) {
			if i == count {
				return columns, nil
			}
			return nil, fmt.Errorf("column count mismatch n:%d len:%d", count, len(columns))
		}

		pos, err := skipLengthEncodedString(data) // catalog
		if err != nil {
			return nil, err
		}

		n, err := skipLengthEncodedString(data[pos:]) // schema
		if err != nil {
			return nil, err
		}
		pos += n

		if mc.cfg.ColumnsWithAlias {
			tableName, _, n, err := readLengthEncodedString(data[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			columns[i].tableName = string(tableName)
		} else {
			n, err = skipLengthEncodedString(data[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
		}

		n, err = skipLengthEncodedString(data[pos:]) // original table
		if err != nil {
			return nil, err
		}
		pos += n

		name, _, n, err := readLengthEncodedString(data[pos:])
		if err != nil {
			return nil, err
		}
		columns[i].name = string(name)
		pos += n

		n, err = skipLengthEncodedString(data[pos:]) // original name
		if err != nil {
			return nil, err
		}
		pos += n

		pos++ // filler

		columns[i].charSet = data[pos]
		pos += 2

		columns[i].length = binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4

		columns[i].fieldType = fieldType(data[pos])
		pos++

		columns[i].flags = fieldFlag(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2

		columns[i].decimals = data[pos]
		// a length-encoded default value can follow here for COM_FIELD_LIST
		// responses; COM_QUERY/COM_STMT_PREPARE never send one.
	}
}

// readRow decodes one text-protocol row (spec.md 4.6): every column
// arrives as a length-encoded string regardless of its declared type, so
// the only per-type work is charset decoding and, when requested,
// parsing temporal columns into time.Time.
func (rows *textRows) readRow(dest []driver.Value) error {
	mc := rows.mc

	if rows.rs.done {
		return io.EOF
	}

	data, err := mc.readPacket()
	if err != nil {
		return err
	}

	if data[0] == iEOF && len(data) == 5 {
		rows.mc.status = readStatus(data[3:])
		rows.rs.done = true
		if !rows.HasNextResultSet() {
			rows.mc = nil
		}
		return io.EOF
	}
	if data[0] == iERR {
		rows.mc = nil
		return mc.handleErrorPacket(data)
	}

	var n int
	var isNull bool
	pos := 0

	for i := range dest {
		dest[i], isNull, n, err = readLengthEncodedString(data[pos:])
		pos += n
		if err != nil {
			return err
		}
		if isNull {
			dest[i] = nil
			continue
		}

		col := &rows.rs.columns[i]
		if mc.parseTime {
			switch col.fieldType {
			case fieldTypeTimestamp, fieldTypeDateTime, fieldTypeDate, fieldTypeNewDate:
				dest[i], err = parseDateTime(dest[i].([]byte), mc.cfg.Loc)
				if err != nil {
					return err
				}
				continue
			}
		}
		if !col.isBinaryColumn() {
			dest[i], err = col.decodeColumnString(dest[i].([]byte))
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// readRow decodes one binary-protocol row (spec.md 4.6): a NULL bitmap
// followed by each non-NULL column in its wire-native encoding, dispatched
// per column through mysqlField.decodeBinary. When the result set was
// opened with a cursor (statusCursorExists) and the batch is exhausted,
// it requests the next COM_STMT_FETCH batch instead of ending the rows.
func (rows *binaryRows) readRow(dest []driver.Value) error {
	data, err := rows.mc.readPacket()
	if err != nil {
		return err
	}

	if data[0] != iOK {
		if data[0] == iEOF && len(data) == 5 {
			rows.mc.status = readStatus(data[3:])
			if rows.stmt != nil && rows.mc.status&statusCursorExists != 0 &&
				rows.mc.status&statusLastRowSent == 0 {
				if err := rows.stmt.fetch(rows, rows.fetchSize); err != nil {
					return err
				}
				return rows.readRow(dest)
			}
			rows.rs.done = true
			if !rows.HasNextResultSet() {
				rows.mc = nil
			}
			return io.EOF
		}
		mc := rows.mc
		rows.mc = nil
		return mc.handleErrorPacket(data)
	}

	pos := 1 + (len(dest)+7+2)>>3
	nullMask := data[1:pos]

	for i := range dest {
		if ((nullMask[(i+2)>>3] >> uint((i+2)&7)) & 1) == 1 {
			dest[i] = nil
			continue
		}

		val, newPos, err := rows.rs.columns[i].decodeBinary(data, pos, rows.mc.parseTime, rows.mc.cfg.Loc)
		if err != nil {
			return err
		}
		dest[i] = val
		pos = newPos
	}

	return nil
}
