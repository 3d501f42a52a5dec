package mysql

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolateParamsBasicTypes(t *testing.T) {
	got, err := interpolateParams(
		"SELECT * FROM t WHERE a=? AND b=? AND c=? AND d=? AND e=?",
		[]driver.Value{int64(1), "hi", 3.5, true, nil},
		time.UTC,
	)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM t WHERE a=1 AND b='hi' AND c=3.5 AND d=1 AND e=NULL`, got)
}

func TestInterpolateParamsMismatchedPlaceholderCount(t *testing.T) {
	_, err := interpolateParams("SELECT ?", nil, time.UTC)
	assert.Equal(t, driver.ErrSkip, err)
}

func TestInterpolateParamsEscapesQuotesAndBackslashes(t *testing.T) {
	got, err := interpolateParams("SELECT ?", []driver.Value{`a'b\c`}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, `SELECT 'a\'b\\c'`, got)
}

func TestStrCountByte(t *testing.T) {
	assert.Equal(t, 3, strCountByte("a?b?c?", '?'))
	assert.Equal(t, 0, strCountByte("abc", '?'))
}

func TestEscapeBytesBackslash(t *testing.T) {
	got := escapeBytesBackslash(nil, []byte("a\x00b\nc\rd\\e'f\"g\x1a"))
	assert.Equal(t, `a\0b\nc\rd\\e\'f\"g\Z`, string(got))
}
