package mysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthEncodedIntegerRoundTrip(t *testing.T) {
	cases := []uint64{
		0, 1, 250, 251, 252, 65535, 65536, 16777215, 16777216,
		1 << 32, 1<<64 - 1,
	}
	for _, n := range cases {
		encoded := appendLengthEncodedInteger(nil, n)
		got, isNull, size := readLengthEncodedInteger(encoded)
		assert.False(t, isNull)
		assert.Equal(t, n, got)
		assert.Equal(t, len(encoded), size)
	}
}

func TestReadLengthEncodedIntegerNull(t *testing.T) {
	got, isNull, size := readLengthEncodedInteger([]byte{0xfb})
	assert.True(t, isNull)
	assert.Equal(t, uint64(0), got)
	assert.Equal(t, 1, size)
}

func TestReadLengthEncodedString(t *testing.T) {
	want := []byte("hello world")
	encoded := appendLengthEncodedInteger(nil, uint64(len(want)))
	encoded = append(encoded, want...)
	encoded = append(encoded, 0xAA) // trailing byte must not be consumed

	got, isNull, n, err := readLengthEncodedString(encoded)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, want, got)
	assert.Equal(t, len(encoded)-1, n)
}

func TestReadLengthEncodedStringNull(t *testing.T) {
	got, isNull, n, err := readLengthEncodedString([]byte{0xfb, 0x01})
	require.NoError(t, err)
	assert.True(t, isNull)
	assert.Empty(t, got)
	assert.Equal(t, 1, n)
}

func TestSkipLengthEncodedString(t *testing.T) {
	want := []byte("abc")
	encoded := appendLengthEncodedInteger(nil, uint64(len(want)))
	encoded = append(encoded, want...)

	n, err := skipLengthEncodedString(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
}

func TestParseDateTime(t *testing.T) {
	got, err := parseDateTime([]byte("2023-05-17 10:20:30"), time.UTC)
	require.NoError(t, err)
	want := time.Date(2023, 5, 17, 10, 20, 30, 0, time.UTC)
	assert.True(t, want.Equal(got))
}

func TestParseDateTimeDateOnly(t *testing.T) {
	got, err := parseDateTime([]byte("2023-05-17"), time.UTC)
	require.NoError(t, err)
	want := time.Date(2023, 5, 17, 0, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(got))
}

func TestAppendDateTimeRoundTrip(t *testing.T) {
	in := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	buf, err := appendDateTime(nil, in)
	require.NoError(t, err)

	got, err := parseDateTime(buf, time.UTC)
	require.NoError(t, err)
	assert.True(t, in.Equal(got))
}
