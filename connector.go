// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2018 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"context"
	"database/sql/driver"
	"net"
)

// connector is the driver.Connector backing every *mysqlConn this package
// dials: the DSN is parsed once into a Config, and Connect replays the
// handshake/auth/params dance against it for each new connection
// database/sql (or pool.Pool) asks for.
type connector struct {
	cfg *Config // immutable private copy
}

// Connect dials, negotiates, and authenticates one connection: TCP/unix
// dial, the v10 handshake, auth-plugin exchange, a max_allowed_packet
// probe when Config.MaxAllowedPacket is zero (normalize replaces a zero
// with defaultMaxAllowedPacket, so a Config that went through ParseDSN
// or NewConnector skips the probe), and then whatever wrapping the
// negotiated capabilities call for
// (TLS happens inside writeHandshakeResponsePacket; CLIENT_COMPRESS is
// layered on here once the handshake is done).
func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	mc := &mysqlConn{
		maxAllowedPacket: maxPacketSize,
		maxWriteSize:     maxPacketSize - 1,
		closech:          make(chan struct{}),
		cfg:              c.cfg,
	}
	mc.parseTime = mc.cfg.ParseTime

	if err := mc.dial(ctx); err != nil {
		return nil, err
	}

	if tc, ok := mc.netConn.(*net.TCPConn); ok {
		if err := tc.SetKeepAlive(true); err != nil {
			// handshake hasn't happened yet: no COM_QUIT needed
			mc.netConn.Close()
			mc.netConn = nil
			return nil, err
		}
	}

	mc.startWatcher()
	if err := mc.watchCancel(ctx); err != nil {
		mc.cleanup()
		return nil, err
	}
	defer mc.finish()

	mc.buf = newBuffer(mc.netConn)
	mc.buf.timeout = mc.cfg.ReadTimeout
	mc.writeTimeout = mc.cfg.WriteTimeout

	if err := mc.handshake(); err != nil {
		return nil, err
	}

	if mc.cfg.MaxAllowedPacket > 0 {
		mc.maxAllowedPacket = mc.cfg.MaxAllowedPacket
	} else {
		maxap, err := mc.getSystemVar("max_allowed_packet")
		if err != nil {
			mc.Close()
			return nil, err
		}
		mc.maxAllowedPacket = stringToInt(maxap) - 1
	}
	if mc.maxAllowedPacket < maxPacketSize {
		mc.maxWriteSize = mc.maxAllowedPacket
	}

	mc.installCompression()

	if err := mc.handleParams(); err != nil {
		mc.Close()
		return nil, err
	}

	return mc, nil
}

// Driver returns the package's registered driver.Driver, as required by
// driver.Connector.
func (c *connector) Driver() driver.Driver {
	return &MySQLDriver{}
}

// dial opens the network connection, preferring a dialer registered via
// RegisterDialContext for cfg.Net over the default net.Dialer.
func (mc *mysqlConn) dial(ctx context.Context) error {
	dialsLock.RLock()
	dial, ok := dials[mc.cfg.Net]
	dialsLock.RUnlock()

	var err error
	if ok {
		dctx := ctx
		if mc.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, mc.cfg.Timeout)
			defer cancel()
		}
		mc.netConn, err = dial(dctx, mc.cfg.Addr)
	} else {
		nd := net.Dialer{Timeout: mc.cfg.Timeout}
		mc.netConn, err = nd.DialContext(ctx, mc.cfg.Net, mc.cfg.Addr)
	}
	return err
}

// handshake runs the v10 handshake and auth-plugin exchange, falling back
// to defaultAuthPlugin if the server-advertised (or Config.AuthPlugin-
// overridden) plugin's first challenge fails outright.
func (mc *mysqlConn) handshake() error {
	authData, plugin, err := mc.readHandshakePacket()
	if err != nil {
		mc.cleanup()
		return err
	}

	if plugin == "" {
		plugin = defaultAuthPlugin
	}
	if mc.cfg.AuthPlugin != "" {
		plugin = mc.cfg.AuthPlugin
	}

	authResp, err := mc.auth(authData, plugin)
	if err != nil {
		errLog.Print("could not use requested auth plugin '"+plugin+"': ", err.Error())
		plugin = defaultAuthPlugin
		authResp, err = mc.auth(authData, plugin)
		if err != nil {
			mc.cleanup()
			return err
		}
	}

	if err := mc.writeHandshakeResponsePacket(authResp, plugin); err != nil {
		mc.cleanup()
		return err
	}

	if err := mc.handleAuthResult(authData, plugin); err != nil {
		// The server has already closed the socket on auth failure
		// (https://dev.mysql.com/doc/internals/en/authentication-fails.html);
		// cleanup without sending COM_QUIT.
		mc.cleanup()
		return err
	}
	return nil
}

// installCompression layers the CLIENT_COMPRESS frame adaptor over the
// socket once both sides have negotiated it (spec.md section 9:
// compression wraps the transport; the packet framer stays unaware of
// it). mc.flags reflects what writeHandshakeResponsePacket actually sent,
// so this only fires when the client itself asked for compression.
func (mc *mysqlConn) installCompression() {
	if mc.flags&clientCompress == 0 {
		return
	}
	mc.compress = true
	mc.rawConn = mc.netConn
	if mc.cfg.Compress == "zstd" {
		mc.netConn = newZstdCompressedConn(mc.netConn)
	} else {
		mc.netConn = newCompressedConn(mc.netConn)
	}
	mc.buf.nc = mc.netConn
}
