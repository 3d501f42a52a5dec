// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2013 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/xcxnig/cymysql/charset"
)

// mysqlField describes one column of a result set (spec.md ColumnDef):
// catalog/schema/table/org-table/name/org-name, charset id, display
// length, type id, flags, decimals. Its lifetime equals the current
// result set, matching spec.md's ColumnDef lifetime invariant.
type mysqlField struct {
	tableName string
	name      string
	length    uint32
	flags     fieldFlag
	fieldType fieldType
	decimals  byte
	charSet   byte
}

// collationNames is the reverse of collations (collations.go), built
// once at init so readColumns can turn a ColumnDef's charset byte back
// into a name for the charset subpackage.
var collationNames = func() map[byte]string {
	m := make(map[byte]string, len(collations))
	for name, id := range collations {
		m[id] = name
	}
	return m
}()

// decodeColumnString applies the column's declared charset to raw bytes
// read off the wire, implementing the charset-id -> decoder dispatch of
// spec.md section 4.5/4.8. A column with the binary flag set, or whose
// charset id is not in collations, is returned unconverted.
func (f *mysqlField) decodeColumnString(b []byte) (string, error) {
	if f.flags&flagBinary != 0 {
		return string(b), nil
	}
	collation, ok := collationNames[f.charSet]
	if !ok {
		return string(b), nil
	}
	return charset.Decode(charsetFromCollation(collation), b)
}

// isBinaryColumn reports whether values should pass through as []byte
// instead of being decoded as text — BLOB types and columns explicitly
// flagged binary.
func (f *mysqlField) isBinaryColumn() bool {
	if f.flags&flagBinary != 0 {
		return true
	}
	switch f.fieldType {
	case fieldTypeTinyBLOB, fieldTypeMediumBLOB, fieldTypeLongBLOB, fieldTypeBLOB:
		return true
	}
	return false
}

// typeDatabaseName returns the database/sql/driver.RowsColumnTypeDatabaseTypeName
// string for the column's MySQL type id, used by the thin cursor adaptor.
func (f *mysqlField) typeDatabaseName() string {
	switch f.fieldType {
	case fieldTypeBit:
		return "BIT"
	case fieldTypeBLOB:
		if f.charSet == collations["binary"] {
			return "BLOB"
		}
		return "TEXT"
	case fieldTypeDate, fieldTypeNewDate:
		return "DATE"
	case fieldTypeDateTime:
		return "DATETIME"
	case fieldTypeDecimal, fieldTypeNewDecimal:
		return "DECIMAL"
	case fieldTypeDouble:
		return "DOUBLE"
	case fieldTypeEnum:
		return "ENUM"
	case fieldTypeFloat:
		return "FLOAT"
	case fieldTypeGeometry:
		return "GEOMETRY"
	case fieldTypeInt24:
		return "MEDIUMINT"
	case fieldTypeJSON:
		return "JSON"
	case fieldTypeLong:
		return "INT"
	case fieldTypeLongBLOB:
		return "LONGBLOB"
	case fieldTypeLongLong:
		return "BIGINT"
	case fieldTypeMediumBLOB:
		return "MEDIUMBLOB"
	case fieldTypeNULL:
		return "NULL"
	case fieldTypeSet:
		return "SET"
	case fieldTypeShort:
		return "SMALLINT"
	case fieldTypeString:
		if f.flags&flagEnum != 0 {
			return "ENUM"
		} else if f.flags&flagSet != 0 {
			return "SET"
		}
		return "CHAR"
	case fieldTypeTime:
		return "TIME"
	case fieldTypeTimestamp:
		return "TIMESTAMP"
	case fieldTypeTiny:
		return "TINYINT"
	case fieldTypeTinyBLOB:
		return "TINYBLOB"
	case fieldTypeVarChar, fieldTypeVarString:
		return "VARCHAR"
	case fieldTypeYear:
		return "YEAR"
	default:
		return ""
	}
}

// decodeBinary decodes one column's value out of a COM_STMT_EXECUTE
// binary-protocol row (spec.md 4.6), starting at pos in data (which has
// already had its NULL bit checked by the caller). It returns the value
// and the position immediately after it.
func (f *mysqlField) decodeBinary(data []byte, pos int, parseTime bool, loc *time.Location) (driver.Value, int, error) {
	switch f.fieldType {
	case fieldTypeNULL:
		return nil, pos, nil

	case fieldTypeTiny:
		if f.flags&flagUnsigned != 0 {
			return int64(data[pos]), pos + 1, nil
		}
		return int64(int8(data[pos])), pos + 1, nil

	case fieldTypeShort, fieldTypeYear:
		if f.flags&flagUnsigned != 0 {
			return int64(binary.LittleEndian.Uint16(data[pos : pos+2])), pos + 2, nil
		}
		return int64(int16(binary.LittleEndian.Uint16(data[pos : pos+2]))), pos + 2, nil

	case fieldTypeInt24, fieldTypeLong:
		if f.flags&flagUnsigned != 0 {
			return int64(binary.LittleEndian.Uint32(data[pos : pos+4])), pos + 4, nil
		}
		return int64(int32(binary.LittleEndian.Uint32(data[pos : pos+4]))), pos + 4, nil

	case fieldTypeLongLong:
		if f.flags&flagUnsigned != 0 {
			val := binary.LittleEndian.Uint64(data[pos : pos+8])
			if val > math.MaxInt64 {
				return uint64ToString(val), pos + 8, nil
			}
			return int64(val), pos + 8, nil
		}
		return int64(binary.LittleEndian.Uint64(data[pos : pos+8])), pos + 8, nil

	case fieldTypeFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(data[pos : pos+4])), pos + 4, nil

	case fieldTypeDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[pos : pos+8])), pos + 8, nil

	case fieldTypeDecimal, fieldTypeNewDecimal, fieldTypeVarChar,
		fieldTypeBit, fieldTypeEnum, fieldTypeSet, fieldTypeTinyBLOB,
		fieldTypeMediumBLOB, fieldTypeLongBLOB, fieldTypeBLOB,
		fieldTypeVarString, fieldTypeString, fieldTypeGeometry, fieldTypeJSON:
		v, isNull, n, err := readLengthEncodedString(data[pos:])
		pos += n
		if err != nil {
			return nil, pos, err
		}
		if isNull {
			return nil, pos, nil
		}
		return v, pos, nil

	case fieldTypeDate, fieldTypeNewDate, fieldTypeTime, fieldTypeTimestamp, fieldTypeDateTime:
		return f.decodeBinaryDateTime(data, pos, parseTime, loc)

	default:
		return nil, pos, fmt.Errorf("unknown field type %d", f.fieldType)
	}
}

// decodeBinaryDateTime handles the four wire encodings that share a
// length-encoded byte count prefix: DATE, TIME, DATETIME, TIMESTAMP.
// TIME has no database/sql equivalent and always comes back as a string.
func (f *mysqlField) decodeBinaryDateTime(data []byte, pos int, parseTime bool, loc *time.Location) (driver.Value, int, error) {
	num, isNull, n := readLengthEncodedInteger(data[pos:])
	pos += n
	if isNull {
		return nil, pos, nil
	}
	raw := data[pos : pos+int(num)]
	pos += int(num)

	if f.fieldType == fieldTypeTime {
		dstlen, err := f.fractionalDstLen(8)
		if err != nil {
			return nil, pos, err
		}
		v, err := formatBinaryTime(raw, dstlen)
		return v, pos, err
	}

	if parseTime {
		v, err := parseBinaryDateTime(num, raw, loc)
		return v, pos, err
	}

	dstlen := uint8(10)
	if f.fieldType != fieldTypeDate {
		var err error
		dstlen, err = f.fractionalDstLen(19)
		if err != nil {
			return nil, pos, err
		}
	}
	v, err := formatBinaryDateTime(raw, dstlen)
	return v, pos, err
}

// fractionalDstLen returns the formatted-string length for a TIME/DATETIME
// value given its declared decimal precision, counting from base (the
// whole-seconds length) and adding a '.' plus the fractional digits.
func (f *mysqlField) fractionalDstLen(base uint8) (uint8, error) {
	switch f.decimals {
	case 0x00, 0x1f:
		return base, nil
	case 1, 2, 3, 4, 5, 6:
		return base + 1 + f.decimals, nil
	default:
		return 0, fmt.Errorf("protocol error, illegal decimals value %d", f.decimals)
	}
}
