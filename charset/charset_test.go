package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePassthrough(t *testing.T) {
	for _, name := range []string{"utf8", "utf8mb4", "ascii", "binary", ""} {
		got, err := Decode(name, []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	}
}

func TestDecodeUnknownCharsetFallsBackToRaw(t *testing.T) {
	got, err := Decode("does_not_exist", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestDecodeLatin1(t *testing.T) {
	// 0xE9 is 'é' in cp1252 (MySQL's "latin1").
	got, err := Decode("latin1", []byte{0xE9})
	require.NoError(t, err)
	assert.Equal(t, "é", got)
}

func TestDecodeGBK(t *testing.T) {
	// 0xC4,0xE3 is "你" in GBK.
	got, err := Decode("gbk", []byte{0xC4, 0xE3})
	require.NoError(t, err)
	assert.Equal(t, "你", got)
}
