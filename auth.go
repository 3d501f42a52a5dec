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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"sync"
)

// scrambleSHA1Password implements mysql_native_password's challenge
// (spec.md section 6): SHA1(password) XOR SHA1(scramble + SHA1(SHA1(password))).
// Ported 1:1 from original_source/cymysql's _mysql_native_password_scramble.
func scrambleSHA1Password(scramble []byte, password string) []byte {
	if len(password) == 0 {
		return nil
	}

	crypt := sha1.New()
	crypt.Write([]byte(password))
	stage1 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(stage1)
	stage2 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(scramble)
	crypt.Write(stage2)
	result := crypt.Sum(nil)

	for i := range result {
		result[i] ^= stage1[i]
	}
	return result
}

// scrambleSHA256Password implements caching_sha2_password/sha256_password's
// fast-path challenge: XOR SHA256(password) with
// SHA256(SHA256(SHA256(password)) + scramble).
func scrambleSHA256Password(scramble []byte, password string) []byte {
	if len(password) == 0 {
		return nil
	}

	crypt := sha256.New()
	crypt.Write([]byte(password))
	stage1 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(stage1)
	stage1Hash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(stage1Hash)
	crypt.Write(scramble)
	stage2 := crypt.Sum(nil)

	for i := range stage1 {
		stage1[i] ^= stage2[i]
	}
	return stage1
}

// auth builds the first handshake-response auth payload for the plugin
// the server advertised (spec.md section 6: Auth plugins). The cleartext
// password is sent by mysql_clear_password (when AllowCleartextPasswords
// is set, with or without TLS) and by sha256_password over TLS or a unix
// socket; the other plugins send only a scrambled token.
func (mc *mysqlConn) auth(authData []byte, plugin string) ([]byte, error) {
	switch plugin {
	case "mysql_old_password":
		if !mc.cfg.AllowOldPasswords {
			return nil, ErrOldPassword
		}
		if len(mc.cfg.Passwd) == 0 {
			return nil, nil
		}
		return scrambleOldPassword(authData[:8], mc.cfg.Passwd), nil

	case "mysql_clear_password":
		if !mc.cfg.AllowCleartextPasswords {
			return nil, ErrCleartextPassword
		}
		return append([]byte(mc.cfg.Passwd), 0), nil

	case "mysql_native_password":
		if !mc.cfg.AllowNativePasswords {
			return nil, ErrNativePassword
		}
		if len(mc.cfg.Passwd) == 0 {
			return nil, nil
		}
		return scrambleSHA1Password(authData[:20], mc.cfg.Passwd), nil

	case "caching_sha2_password":
		mc.authPlugin = plugin
		mc.lastAuthData = append([]byte(nil), authData[:20]...)
		if len(mc.cfg.Passwd) == 0 {
			return nil, nil
		}
		return scrambleSHA256Password(authData[:20], mc.cfg.Passwd), nil

	case "sha256_password":
		mc.authPlugin = plugin
		mc.lastAuthData = append([]byte(nil), authData[:20]...)
		if len(mc.cfg.Passwd) == 0 {
			return []byte{0}, nil
		}
		if mc.cfg.tls != nil || mc.cfg.Net == "unix" {
			// cleartext is safe over TLS/unix socket
			return append([]byte(mc.cfg.Passwd), 0), nil
		}
		// request the server's RSA public key
		return []byte{1}, nil

	default:
		return nil, ErrUnknownPlugin
	}
}

// handleAuthResult drives the post-handshake exchange (spec.md 6's
// auth-switch / more-data / fast_auth_success / perform_full_authentication
// states) until an OK or a fatal error packet is received.
func (mc *mysqlConn) handleAuthResult(oldAuthData []byte, plugin string) error {
	authData, newPlugin, err := mc.readAuthResult()
	if err != nil {
		return err
	}

	if newPlugin != "" {
		// auth-switch request (0xFE): the server asked for a different plugin.
		if authData == nil {
			authData = oldAuthData
		} else {
			copy(oldAuthData, authData)
		}

		plugin = newPlugin
		authResp, err := mc.auth(authData, plugin)
		if err != nil {
			return err
		}
		if err = mc.writeAuthSwitchPacket(authResp); err != nil {
			return err
		}

		authData, newPlugin, err = mc.readAuthResult()
		if err != nil {
			return err
		}
		if newPlugin != "" {
			return ErrMalformPkt
		}
	}

	switch plugin {
	case "caching_sha2_password":
		return mc.handleCachingSHA2AuthResult(authData)
	case "sha256_password":
		return mc.handleSHA256AuthResult(authData)
	default:
		// a non-nil authData here from a plain OK packet is meaningless
		return nil
	}
}

// handleCachingSHA2AuthResult processes the single extra byte the server
// sends after a caching_sha2_password challenge: 0x03 (fast_auth_success,
// the OK packet that follows confirms the login) or 0x04
// (perform_full_authentication, requiring an RSA-encrypted password
// round trip — spec.md section 6).
func (mc *mysqlConn) handleCachingSHA2AuthResult(authData []byte) error {
	if authData == nil {
		return nil
	}
	switch authData[0] {
	case 3: // fast_auth_success
		return mc.readResultOK()
	case 4: // perform_full_authentication
		if mc.cfg.tls != nil || mc.cfg.Net == "unix" {
			if err := mc.writeAuthSwitchPacket(append([]byte(mc.cfg.Passwd), 0)); err != nil {
				return err
			}
		} else {
			pubKey, err := mc.requestPublicKey()
			if err != nil {
				return err
			}
			enc, err := encryptPassword(mc.cfg.Passwd, mc.lastAuthData, pubKey)
			if err != nil {
				return err
			}
			if err := mc.writeAuthSwitchPacket(enc); err != nil {
				return err
			}
		}
		return mc.readResultOK()
	default:
		return ErrMalformPkt
	}
}

func (mc *mysqlConn) handleSHA256AuthResult(authData []byte) error {
	if authData == nil {
		return nil
	}
	pubKey, err := decodePEMPublicKey(authData)
	if err != nil {
		return err
	}
	enc, err := encryptPassword(mc.cfg.Passwd, mc.lastAuthData, pubKey)
	if err != nil {
		return err
	}
	if err := mc.writeAuthSwitchPacket(enc); err != nil {
		return err
	}
	return mc.readResultOK()
}

// requestPublicKey asks the server for its RSA public key by sending a
// single 0x02 byte, used by caching_sha2_password's full-authentication
// path over a plaintext connection. A key registered with
// RegisterServerPubKey under cfg.ServerPubKey is used without a round
// trip; a key fetched from the server is not cached.
func (mc *mysqlConn) requestPublicKey() (*rsa.PublicKey, error) {
	if mc.cfg.ServerPubKey != "" {
		if key := getServerPubKey(mc.cfg.ServerPubKey); key != nil {
			return key, nil
		}
	}

	if err := mc.writeAuthSwitchPacket([]byte{2}); err != nil {
		return nil, err
	}
	pkt, _, err := mc.readAuthResult()
	if err != nil {
		return nil, err
	}
	return decodePEMPublicKey(pkt)
}

func decodePEMPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrMalformPkt
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrMalformPkt
	}
	return rsaKey, nil
}

// encryptPassword XORs the NUL-terminated password with the scramble
// then RSA-OAEP encrypts it with the server's public key, per
// caching_sha2_password/sha256_password's full-auth wire format.
func encryptPassword(password string, scramble []byte, pub *rsa.PublicKey) ([]byte, error) {
	plain := make([]byte, len(password)+1)
	copy(plain, password)
	for i := range plain {
		plain[i] ^= scramble[i%len(scramble)]
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plain, nil)
}

// scrambleOldPassword implements the legacy (pre-4.1) password hash for
// mysql_old_password, kept only for compatibility with ancient servers.
func scrambleOldPassword(scramble []byte, password string) []byte {
	if len(password) == 0 {
		return nil
	}

	hashPw := pwHash([]byte(password))
	hashSc := pwHash(scramble)

	seed1 := hashPw[0] ^ hashSc[0]
	seed2 := hashPw[1] ^ hashSc[1]

	r := newMyRand(seed1, seed2)

	out := make([]byte, 8)
	var extra uint32
	for i := range out {
		out[i] = byte(r.next()*31) + 64
	}
	extra = byte32(r.next() * 31)
	for i := range out {
		out[i] ^= byte(extra)
	}
	return out
}

func byte32(f float64) uint32 { return uint32(f) }

type myRand struct{ seed1, seed2 uint32 }

func newMyRand(seed1, seed2 uint32) *myRand {
	return &myRand{seed1 % 0x3fffffff, seed2 % 0x3fffffff}
}

func (r *myRand) next() float64 {
	r.seed1 = (r.seed1*3 + r.seed2) % 0x3fffffff
	r.seed2 = (r.seed1 + r.seed2 + 33) % 0x3fffffff
	return float64(r.seed1) / 0x3fffffff
}

func pwHash(password []byte) [2]uint32 {
	var nr, nr2, add uint32 = 1345345333, 0x12345671, 7
	for _, c := range password {
		if c == ' ' || c == '\t' {
			continue
		}
		tmp := uint32(c)
		nr ^= (((nr & 63) + add) * tmp) + (nr << 8)
		nr2 += (nr2 << 8) ^ nr
		add += tmp
	}
	return [2]uint32{nr & 0x7fffffff, nr2 & 0x7fffffff}
}

// serverPubKeys caches named RSA public keys registered out of band via
// Config.ServerPubKey, mirroring RegisterTLSConfig's pattern in dsn.go.
var (
	serverPubKeysLock sync.RWMutex
	serverPubKeys     = map[string]*rsa.PublicKey{}
)

// RegisterServerPubKey registers a server RSA public key for
// caching_sha2_password/sha256_password full authentication without a
// round trip to fetch it, the same pinning escape hatch
// RegisterTLSConfig provides for TLS.
func RegisterServerPubKey(name string, pubKey *rsa.PublicKey) {
	serverPubKeysLock.Lock()
	defer serverPubKeysLock.Unlock()
	serverPubKeys[name] = pubKey
}

// DeregisterServerPubKey removes the public key registered with the
// given name.
func DeregisterServerPubKey(name string) {
	serverPubKeysLock.Lock()
	defer serverPubKeysLock.Unlock()
	delete(serverPubKeys, name)
}

func getServerPubKey(name string) *rsa.PublicKey {
	serverPubKeysLock.RLock()
	defer serverPubKeysLock.RUnlock()
	return serverPubKeys[name]
}

// writeAuthSwitchPacket answers an auth-switch request or a
// perform_full_authentication round trip with the auth data the plugin
// just computed (spec.md section 6).
// http://dev.mysql.com/doc/internals/en/connection-phase-packets.html#packet-Protocol::AuthSwitchResponse
func (mc *mysqlConn) writeAuthSwitchPacket(authData []byte) error {
	data, err := mc.buf.takeSmallBuffer(4 + len(authData))
	if err != nil {
		errLog.Print(err)
		return errBadConnNoWrite
	}
	copy(data[4:], authData)
	return mc.writePacket(data)
}

// readAuthResult reads the packet following an auth attempt: an OK packet
// (success), an auth-switch request (0xFE, asking for a different plugin
// or carrying "more data" for the current one), or an ERR packet.
func (mc *mysqlConn) readAuthResult() ([]byte, string, error) {
	data, err := mc.readPacket()
	if err != nil {
		return nil, "", err
	}

	switch data[0] {
	case iOK:
		return nil, "", mc.handleOkPacket(data)

	case iAuthMoreData:
		return data[1:], "", nil

	case iEOF:
		// http://dev.mysql.com/doc/internals/en/connection-phase-packets.html#packet-Protocol::OldAuthSwitchRequest
		if len(data) == 1 {
			return nil, "mysql_old_password", nil
		}
		end := bytes.IndexByte(data, 0x00)
		if end < 0 {
			return nil, "", ErrMalformPkt
		}
		plugin := string(data[1:end])
		return data[end+1:], plugin, nil

	default:
		return nil, "", mc.handleErrorPacket(data)
	}
}
