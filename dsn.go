// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2016 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	errInvalidDSNUnescaped = errors.New("invalid DSN: did you forget to escape a param value?")
	errInvalidDSNAddr      = errors.New("invalid DSN: network address not terminated (missing closing brace)")
	errInvalidDSNNoSlash   = errors.New("invalid DSN: missing the slash separating the database name")
	errInvalidDSNUnsafeCollation = errors.New("invalid DSN: interpolateParams can not be used with unsafe collations")
)

// Config holds every option enumerated in spec.md section 6. It is built
// either by ParseDSN from a DSN string, or directly by the caller for use
// with NewConnector.
type Config struct {
	User   string
	Passwd string
	Net    string
	Addr   string
	DBName string

	Collation        string
	Loc              *time.Location
	MaxAllowedPacket int
	ServerPubKey     string
	tls              *tls.Config
	TLSConfig        string // "", "false", "true", "skip-verify", "preferred", or a named config
	Timeout          time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	Params       map[string]string
	ConnectAttrs map[string]string

	SQLMode     string
	InitCommand string

	AuthPlugin string // override auto-negotiated plugin

	AllowAllFiles           bool // enable LOAD LOCAL INFILE unconditionally
	AllowCleartextPasswords bool
	AllowNativePasswords    bool
	AllowOldPasswords       bool
	CheckConnLiveness       bool
	ClientFoundRows         bool
	ColumnsWithAlias        bool
	InterpolateParams       bool
	MultiStatements         bool
	ParseTime               bool
	RejectReadOnly          bool

	Compress string // "none", "zlib", or "zstd"

	// LocalInfilePolicy, when set, is consulted before honoring a LOAD
	// LOCAL INFILE request for a file that neither AllowAllFiles nor
	// RegisterLocalFile permits; nil denies such files. Reader:: requests
	// are served from RegisterReaderHandler regardless of it.
	LocalInfilePolicy func(filename string) bool

	// CursorFetchSize, when non-zero, makes prepared-statement queries
	// request CURSOR_TYPE_READ_ONLY and stream rows back in batches of
	// this size via COM_STMT_FETCH (spec.md section 9's open question on
	// SERVER_STATUS_CURSOR_EXISTS) instead of the default single
	// COM_STMT_EXECUTE response.
	CursorFetchSize int
}

// Clone returns a deep copy of the Config suitable for mutation by a
// caller without affecting the original, matching the teacher's
// connector.go which calls cfg.Clone() before normalize().
func (cfg *Config) Clone() *Config {
	c := *cfg
	if cfg.tls != nil {
		c.tls = cfg.tls.Clone()
	}
	if cfg.Params != nil {
		c.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			c.Params[k] = v
		}
	}
	if cfg.ConnectAttrs != nil {
		c.ConnectAttrs = make(map[string]string, len(cfg.ConnectAttrs))
		for k, v := range cfg.ConnectAttrs {
			c.ConnectAttrs[k] = v
		}
	}
	return &c
}

// normalize fills in defaults and resolves TLSConfig into a *tls.Config.
// Called once by ParseDSN / NewConnector.
func (cfg *Config) normalize() error {
	if cfg.Net == "" {
		cfg.Net = "tcp"
	}
	if cfg.Addr == "" {
		switch cfg.Net {
		case "tcp":
			cfg.Addr = "127.0.0.1:3306"
		case "unix":
			cfg.Addr = "/tmp/mysql.sock"
		}
	}
	if cfg.Collation == "" {
		cfg.Collation = defaultCollation
	}
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	if cfg.MaxAllowedPacket == 0 {
		cfg.MaxAllowedPacket = defaultMaxAllowedPacket
	}
	if cfg.Compress == "" {
		cfg.Compress = "none"
	}

	switch cfg.TLSConfig {
	case "", "false":
		cfg.tls = nil
	case "true":
		cfg.tls = &tls.Config{}
	case "skip-verify":
		cfg.tls = &tls.Config{InsecureSkipVerify: true}
	case "preferred":
		cfg.tls = &tls.Config{InsecureSkipVerify: true}
	default:
		tlsCfg, ok := getTLSConfigClone(cfg.TLSConfig)
		if !ok {
			return fmt.Errorf("mysql: invalid value %q for TLSConfig", cfg.TLSConfig)
		}
		cfg.tls = tlsCfg
	}
	if cfg.tls != nil && cfg.tls.ServerName == "" && !cfg.tls.InsecureSkipVerify {
		host, _, err := splitHostPort(cfg.Addr)
		if err == nil {
			cfg.tls.ServerName = host
		}
	}
	return nil
}

func splitHostPort(addr string) (string, string, error) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return addr, "", nil
	}
	return addr[:i], addr[i+1:], nil
}

// Named TLS configs registered via RegisterTLSConfig, mirroring the
// well-known go-sql-driver RegisterTLSConfig/DeregisterTLSConfig pair.
var (
	tlsConfigLock  sync.RWMutex
	tlsConfigNamed = map[string]*tls.Config{}
)

func getTLSConfigClone(name string) (*tls.Config, bool) {
	tlsConfigLock.RLock()
	defer tlsConfigLock.RUnlock()
	c, ok := tlsConfigNamed[name]
	if !ok {
		return nil, false
	}
	return tlsConfigClone(c), true
}

// RegisterTLSConfig registers a custom tls.Config for use with the
// "tls=name" DSN parameter, mirroring spec.md section 6's enumerated
// ssl options.
func RegisterTLSConfig(name string, cfg *tls.Config) error {
	switch name {
	case "", "true", "false", "skip-verify", "preferred":
		return fmt.Errorf("mysql: key %q is reserved", name)
	}
	tlsConfigLock.Lock()
	tlsConfigNamed[name] = cfg
	tlsConfigLock.Unlock()
	return nil
}

// DeregisterTLSConfig removes a previously registered TLS configuration.
func DeregisterTLSConfig(name string) {
	tlsConfigLock.Lock()
	delete(tlsConfigNamed, name)
	tlsConfigLock.Unlock()
}

// NewConfig returns a Config with default values set, as if parsed from
// an empty DSN.
func NewConfig() *Config {
	cfg := &Config{
		Collation:            defaultCollation,
		Loc:                  time.UTC,
		MaxAllowedPacket:     defaultMaxAllowedPacket,
		AllowNativePasswords: true,
		CheckConnLiveness:    true,
		Compress:             "none",
	}
	return cfg
}

// FormatDSN assembles a Config back into a DSN string of the form
// user:passwd@net(addr)/dbname?param=value.
func (cfg *Config) FormatDSN() string {
	var buf strings.Builder

	if len(cfg.User) > 0 {
		buf.WriteString(cfg.User)
		if len(cfg.Passwd) > 0 {
			buf.WriteByte(':')
			buf.WriteString(cfg.Passwd)
		}
		buf.WriteByte('@')
	}

	if cfg.Net != "" {
		buf.WriteString(cfg.Net)
		buf.WriteByte('(')
		buf.WriteString(cfg.Addr)
		buf.WriteByte(')')
	}

	buf.WriteByte('/')
	buf.WriteString(cfg.DBName)

	params := url.Values{}
	if cfg.ParseTime {
		params.Set("parseTime", "true")
	}
	if cfg.Loc != nil && cfg.Loc != time.UTC {
		params.Set("loc", cfg.Loc.String())
	}
	if cfg.Collation != "" && cfg.Collation != defaultCollation {
		params.Set("collation", cfg.Collation)
	}
	if cfg.TLSConfig != "" {
		params.Set("tls", cfg.TLSConfig)
	}
	if cfg.Compress != "" && cfg.Compress != "none" {
		params.Set("compress", cfg.Compress)
	}
	for k, v := range cfg.Params {
		params.Set(k, v)
	}
	if len(params) > 0 {
		buf.WriteByte('?')
		buf.WriteString(params.Encode())
	}
	return buf.String()
}

// ParseDSN parses a DSN string of the form
//
//	user:password@net(addr)/dbname?param=value&param=value
//
// into a Config, following the go-sql-driver grammar the teacher relies
// on (mc.cfg.* field usage in connector.go/packets.go).
func ParseDSN(dsn string) (cfg *Config, err error) {
	cfg = NewConfig()

	// [user[:password]@][net[(addr)]]/dbname[?param1=value1&...]
	foundSlash := false
	for i := len(dsn) - 1; i >= 0; i-- {
		if dsn[i] == '/' {
			foundSlash = true
			var j, k int

			// left part is empty if i <= 0
			if i > 0 {
				// [username[:password]@][protocol[(address)]]
				// Find the last '@' in dsn[:i]
				for j = i; j >= 0; j-- {
					if dsn[j] == '@' {
						// username[:password]
						// Find the first ':' in dsn[:j]
						for k = 0; k < j; k++ {
							if dsn[k] == ':' {
								cfg.Passwd = dsn[k+1 : j]
								break
							}
						}
						cfg.User = dsn[:k]
						break
					}
				}

				// [protocol[(address)]]
				// Find the first '(' in dsn[j+1:i]
				for k = j + 1; k < i; k++ {
					if dsn[k] == '(' {
						// dsn[i-1] must be == ')' if an address is specified
						if dsn[i-1] != ')' {
							if strings.ContainsRune(dsn[k+1:i], ')') {
								return nil, errInvalidDSNUnescaped
							}
							return nil, errInvalidDSNAddr
						}
						cfg.Addr = dsn[k+1 : i-1]
						break
					}
				}
				cfg.Net = dsn[j+1 : k]
			}

			// dbname[?param1=value1&...]
			// Find the first '?' in dsn[i+1:]
			for j = i + 1; j < len(dsn); j++ {
				if dsn[j] == '?' {
					if err = parseDSNParams(cfg, dsn[j+1:]); err != nil {
						return nil, err
					}
					break
				}
			}
			cfg.DBName = dsn[i+1 : j]

			break
		}
	}

	if !foundSlash && len(dsn) > 0 {
		return nil, errInvalidDSNNoSlash
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDSNParams parses the DSN "query string" into cfg.
func parseDSNParams(cfg *Config, params string) (err error) {
	for _, v := range strings.Split(params, "&") {
		key, value, found := strings.Cut(v, "=")
		if !found {
			continue
		}

		value, err = url.QueryUnescape(value)
		if err != nil {
			return err
		}

		switch key {
		case "allowAllFiles":
			cfg.AllowAllFiles, err = strconv.ParseBool(value)
		case "allowCleartextPasswords":
			cfg.AllowCleartextPasswords, err = strconv.ParseBool(value)
		case "allowNativePasswords":
			cfg.AllowNativePasswords, err = strconv.ParseBool(value)
		case "allowOldPasswords":
			cfg.AllowOldPasswords, err = strconv.ParseBool(value)
		case "charset":
			cfg.Collation = charsetToDefaultCollation(value)
		case "collation":
			cfg.Collation = value
		case "checkConnLiveness":
			cfg.CheckConnLiveness, err = strconv.ParseBool(value)
		case "columnsWithAlias":
			cfg.ColumnsWithAlias, err = strconv.ParseBool(value)
		case "cursorFetchSize":
			cfg.CursorFetchSize, err = strconv.Atoi(value)
		case "clientFoundRows":
			cfg.ClientFoundRows, err = strconv.ParseBool(value)
		case "compress":
			cfg.Compress = value
		case "interpolateParams":
			cfg.InterpolateParams, err = strconv.ParseBool(value)
		case "loc":
			cfg.Loc, err = time.LoadLocation(value)
		case "multiStatements":
			cfg.MultiStatements, err = strconv.ParseBool(value)
		case "parseTime":
			cfg.ParseTime, err = strconv.ParseBool(value)
		case "maxAllowedPacket":
			cfg.MaxAllowedPacket, err = strconv.Atoi(value)
		case "readTimeout":
			cfg.ReadTimeout, err = time.ParseDuration(value)
		case "writeTimeout":
			cfg.WriteTimeout, err = time.ParseDuration(value)
		case "timeout":
			cfg.Timeout, err = time.ParseDuration(value)
		case "tls":
			cfg.TLSConfig = value
		case "serverPubKey":
			cfg.ServerPubKey = value
		case "rejectReadOnly":
			cfg.RejectReadOnly, err = strconv.ParseBool(value)
		case "sql_mode":
			cfg.SQLMode = value
		case "init_command":
			cfg.InitCommand = value
		case "authPlugin":
			cfg.AuthPlugin = value
		default:
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			cfg.Params[key] = value
		}
		if err != nil {
			return err
		}
	}
	return nil
}
