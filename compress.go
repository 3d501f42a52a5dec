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
	"io"
	"net"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// compressHeaderLen is the 7-byte frame spec.md section 9 describes for
// CLIENT_COMPRESS: uint24 compressed_length, uint8 sequence,
// uint24 uncompressed_length (0 when the payload below was not worth
// compressing and is carried verbatim).
const compressHeaderLen = 7

// compressMinSize is the smallest payload worth zlib-compressing; below
// it the per-packet deflate framing overhead outweighs the savings.
const compressMinSize = 50

// compressedConn wraps the raw socket and speaks the compressed-packet
// envelope below the regular packet framer (buffer.go / packets.go),
// which stay unaware compression is happening at all. It is installed
// on mc.netConn/mc.buf.nc once CLIENT_COMPRESS is negotiated
// (connector.go).
type compressedConn struct {
	net.Conn
	seq    byte
	useZstd bool

	readBuf bytes.Buffer
}

// newCompressedConn wraps nc in the zlib-framed compressed protocol.
// zstd is accepted as an optional algorithm (the CLIENT_COMPRESS wire
// frame is algorithm-agnostic; the algorithm itself is a connection
// attribute, not something the header encodes) for servers/proxies that
// advertise it via the "compress=zstd" DSN parameter.
func newCompressedConn(nc net.Conn) *compressedConn {
	return &compressedConn{Conn: nc}
}

func newZstdCompressedConn(nc net.Conn) *compressedConn {
	return &compressedConn{Conn: nc, useZstd: true}
}

func (c *compressedConn) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPacketSize {
			chunk = chunk[:maxPacketSize]
		}
		if err := c.writeFrame(chunk); err != nil {
			return total - len(p), err
		}
		p = p[len(chunk):]
	}
	return total, nil
}

func (c *compressedConn) writeFrame(payload []byte) error {
	var compressed []byte
	uncompressedLen := 0

	if len(payload) >= compressMinSize {
		var buf bytes.Buffer
		if c.useZstd {
			zw, err := zstd.NewWriter(&buf)
			if err != nil {
				return err
			}
			if _, err := zw.Write(payload); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
		} else {
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(payload); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
		}
		if buf.Len() < len(payload) {
			compressed = buf.Bytes()
			uncompressedLen = len(payload)
		}
	}
	if compressed == nil {
		compressed = payload
	}

	header := make([]byte, compressHeaderLen)
	header[0] = byte(len(compressed))
	header[1] = byte(len(compressed) >> 8)
	header[2] = byte(len(compressed) >> 16)
	header[3] = c.seq
	c.seq++
	header[4] = byte(uncompressedLen)
	header[5] = byte(uncompressedLen >> 8)
	header[6] = byte(uncompressedLen >> 16)

	if _, err := c.Conn.Write(header); err != nil {
		return err
	}
	_, err := c.Conn.Write(compressed)
	return err
}

func (c *compressedConn) Read(p []byte) (int, error) {
	for c.readBuf.Len() == 0 {
		if err := c.readFrame(); err != nil {
			return 0, err
		}
	}
	return c.readBuf.Read(p)
}

func (c *compressedConn) readFrame() error {
	header := make([]byte, compressHeaderLen)
	if _, err := io.ReadFull(c.Conn, header); err != nil {
		return err
	}
	compressedLen := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	uncompressedLen := int(header[4]) | int(header[5])<<8 | int(header[6])<<16

	payload := make([]byte, compressedLen)
	if _, err := io.ReadFull(c.Conn, payload); err != nil {
		return err
	}

	if uncompressedLen == 0 {
		c.readBuf.Write(payload)
		return nil
	}

	out := make([]byte, uncompressedLen)
	if c.useZstd {
		zr, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return err
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, out); err != nil {
			return err
		}
	} else {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return err
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, out); err != nil {
			return err
		}
	}
	c.readBuf.Write(out)
	return nil
}
