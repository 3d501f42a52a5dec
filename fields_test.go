package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBinaryColumn(t *testing.T) {
	f := &mysqlField{fieldType: fieldTypeBLOB}
	assert.True(t, f.isBinaryColumn())

	f = &mysqlField{fieldType: fieldTypeVarString}
	assert.False(t, f.isBinaryColumn())

	f = &mysqlField{fieldType: fieldTypeVarString, flags: flagBinary}
	assert.True(t, f.isBinaryColumn())
}

func TestTypeDatabaseName(t *testing.T) {
	cases := []struct {
		field mysqlField
		want  string
	}{
		{mysqlField{fieldType: fieldTypeLong}, "INT"},
		{mysqlField{fieldType: fieldTypeLongLong}, "BIGINT"},
		{mysqlField{fieldType: fieldTypeVarChar}, "VARCHAR"},
		{mysqlField{fieldType: fieldTypeString, flags: flagEnum}, "ENUM"},
		{mysqlField{fieldType: fieldTypeString, flags: flagSet}, "SET"},
		{mysqlField{fieldType: fieldTypeString}, "CHAR"},
		{mysqlField{fieldType: fieldTypeDate}, "DATE"},
		{mysqlField{fieldType: fieldTypeJSON}, "JSON"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.field.typeDatabaseName())
	}
}

func TestDecodeColumnStringBinaryPassthrough(t *testing.T) {
	f := &mysqlField{flags: flagBinary}
	got, err := f.decodeColumnString([]byte{0xff, 0xfe, 0x00})
	require.NoError(t, err)
	assert.Equal(t, string([]byte{0xff, 0xfe, 0x00}), got)
}

func TestDecodeColumnStringUnknownCharsetPassesThrough(t *testing.T) {
	f := &mysqlField{charSet: 0xFE}
	got, err := f.decodeColumnString([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestDecodeColumnStringLatin1(t *testing.T) {
	id, ok := collations["latin1_swedish_ci"]
	require.True(t, ok)
	f := &mysqlField{charSet: id}
	// 0xE9 in cp1252/latin1 is 'é'
	got, err := f.decodeColumnString([]byte{0xE9})
	require.NoError(t, err)
	assert.Equal(t, "é", got)
}
