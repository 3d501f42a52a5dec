package mysql

import (
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrambleSHA1PasswordDeterministic(t *testing.T) {
	scramble := []byte("01234567890123456789")
	a := scrambleSHA1Password(scramble, "secret")
	b := scrambleSHA1Password(scramble, "secret")
	assert.Equal(t, a, b)
	assert.Len(t, a, 20)
}

func TestScrambleSHA1PasswordEmpty(t *testing.T) {
	scramble := []byte("01234567890123456789")
	assert.Nil(t, scrambleSHA1Password(scramble, ""))
}

func TestScrambleSHA1PasswordDiffersByScramble(t *testing.T) {
	a := scrambleSHA1Password([]byte("aaaaaaaaaaaaaaaaaaaa"), "secret")
	b := scrambleSHA1Password([]byte("bbbbbbbbbbbbbbbbbbbb"), "secret")
	assert.NotEqual(t, a, b)
}

func TestScrambleSHA256PasswordDeterministic(t *testing.T) {
	scramble := []byte("01234567890123456789")
	a := scrambleSHA256Password(scramble, "secret")
	b := scrambleSHA256Password(scramble, "secret")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestScrambleSHA256PasswordEmpty(t *testing.T) {
	scramble := []byte("01234567890123456789")
	assert.Nil(t, scrambleSHA256Password(scramble, ""))
}

func TestScrambleOldPasswordDeterministic(t *testing.T) {
	scramble := []byte("01234567")
	a := scrambleOldPassword(scramble, "secret")
	b := scrambleOldPassword(scramble, "secret")
	assert.Equal(t, a, b)
	assert.Len(t, a, 8)
}

func TestAuthRejectsDisallowedPlugins(t *testing.T) {
	mc := &mysqlConn{cfg: &Config{}}

	_, err := mc.auth([]byte("01234567890123456789"), "mysql_old_password")
	assert.Equal(t, ErrOldPassword, err)

	_, err = mc.auth([]byte("01234567890123456789"), "mysql_clear_password")
	assert.Equal(t, ErrCleartextPassword, err)

	_, err = mc.auth([]byte("01234567890123456789"), "mysql_native_password")
	assert.Equal(t, ErrNativePassword, err)

	_, err = mc.auth([]byte("01234567890123456789"), "unknown_plugin")
	assert.Equal(t, ErrUnknownPlugin, err)
}

func TestAuthCachingSHA2RecordsLastAuthData(t *testing.T) {
	mc := &mysqlConn{cfg: &Config{Passwd: "secret"}}
	authData := []byte("0123456789012345678901")

	resp, err := mc.auth(authData, "caching_sha2_password")
	assert.NoError(t, err)
	assert.Len(t, resp, 32)
	assert.Equal(t, authData[:20], mc.lastAuthData)
	assert.Equal(t, "caching_sha2_password", mc.authPlugin)
}

func TestRegisterServerPubKeyRoundTrip(t *testing.T) {
	defer DeregisterServerPubKey("test-key")
	assert.Nil(t, getServerPubKey("test-key"))

	key := &rsa.PublicKey{E: 65537}
	RegisterServerPubKey("test-key", key)
	assert.Same(t, key, getServerPubKey("test-key"))

	DeregisterServerPubKey("test-key")
	assert.Nil(t, getServerPubKey("test-key"))
}
