// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2013 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"io"
	"net"
	"time"
)

const defaultBufSize = 4096
const maxCachedBufSize = 256 * 1024

// A buffer which is used for both reading and writing. This is possible
// since communication on each connection is synchronous: we never write
// and read simultaneously on the same connection. The buffer is similar
// to bufio.Reader / Writer but zero-copy-ish, backed by two byte slices
// in a double-buffering scheme. Its nc field is swapped out transparently
// when TLS or compression wraps the underlying socket (packets.go,
// connector.go) — the buffer itself never needs to know.
type buffer struct {
	buf     []byte // buf is a byte buffer whose length and capacity are equal.
	nc      net.Conn
	idx     int
	length  int
	timeout time.Duration
	dbuf    [2][]byte // the two byte slices that back this buffer
	flipcnt uint      // current buffer counter for double-buffering
}

// newBuffer allocates and returns a new buffer.
func newBuffer(nc net.Conn) buffer {
	fg := make([]byte, defaultBufSize)
	return buffer{
		buf:  fg,
		nc:   nc,
		dbuf: [2][]byte{fg, nil},
	}
}

// flip replaces the active buffer with the background buffer. This is a
// delayed flip that simply increases the buffer counter; the actual flip
// is performed the next time fill is called.
func (b *buffer) flip() {
	b.flipcnt += 1
}

// fill reads into the buffer until at least need bytes are in it.
func (b *buffer) fill(need int) error {
	n := b.length
	// Fill data into its double-buffering target: if flip was called on
	// this buffer, copy to the background buffer and fill it with
	// network data; otherwise move the current buffer's contents to the
	// front before filling it.
	dest := b.dbuf[b.flipcnt&1]

	// Grow the buffer if necessary to fit the whole packet, rounding up
	// to the next multiple of the default size.
	if need > len(dest) {
		dest = make([]byte, ((need/defaultBufSize)+1)*defaultBufSize)

		// If the allocated buffer is not too large, keep it as backing
		// storage to avoid extra allocations on large reads.
		if len(dest) <= maxCachedBufSize {
			b.dbuf[b.flipcnt&1] = dest
		}
	}

	if n > 0 {
		copy(dest[:n], b.buf[b.idx:])
	}

	b.buf = dest
	b.idx = 0

	for {
		if b.timeout > 0 {
			if err := b.nc.SetReadDeadline(time.Now().Add(b.timeout)); err != nil {
				return err
			}
		}

		nn, err := b.nc.Read(b.buf[n:])
		n += nn

		switch err {
		case nil:
			if n < need {
				continue
			}
			b.length = n
			return nil

		case io.EOF:
			if n >= need {
				b.length = n
				return nil
			}
			return io.ErrUnexpectedEOF

		default:
			return err
		}
	}
}

// readNext returns the next N bytes from the buffer. The returned slice
// is only guaranteed to be valid until the next read.
func (b *buffer) readNext(need int) ([]byte, error) {
	if b.length < need {
		if err := b.fill(need); err != nil {
			return nil, err
		}
	}

	offset := b.idx
	b.idx += need
	b.length -= need
	return b.buf[offset:b.idx], nil
}

// checkIdle rejects every take*/store call while unread bytes remain from
// a previous readNext: the packet writers that call take*/store assume
// they own the whole backing array, which isn't true if a read is
// mid-flight.
func (b *buffer) checkIdle() error {
	if b.length > 0 {
		return ErrBusyBuffer
	}
	return nil
}

// takeBuffer returns a []byte of exactly length bytes for a packet
// writer to fill in, reusing the backing array when it's already big
// enough and otherwise allocating one. Buffers above maxPacketSize are
// never kept as backing storage, since a packet that size is written
// once and not worth caching for.
func (b *buffer) takeBuffer(length int) ([]byte, error) {
	if err := b.checkIdle(); err != nil {
		return nil, err
	}

	if length <= cap(b.buf) {
		return b.buf[:length], nil
	}
	if length < maxPacketSize {
		b.buf = make([]byte, length)
		return b.buf, nil
	}
	return make([]byte, length), nil
}

// takeSmallBuffer is takeBuffer's fast path for callers that already know
// length fits inside the default buffer size.
func (b *buffer) takeSmallBuffer(length int) ([]byte, error) {
	if err := b.checkIdle(); err != nil {
		return nil, err
	}
	return b.buf[:length], nil
}

// takeCompleteBuffer hands back the whole backing array (len == cap),
// for callers like writeExecutePacket that don't know their final size
// up front and grow into whatever room is available.
func (b *buffer) takeCompleteBuffer() ([]byte, error) {
	if err := b.checkIdle(); err != nil {
		return nil, err
	}
	return b.buf, nil
}

// store adopts buf as the buffer's new backing array if it grew past what
// takeBuffer/takeCompleteBuffer handed out and isn't too large to cache.
func (b *buffer) store(buf []byte) error {
	if err := b.checkIdle(); err != nil {
		return err
	}
	if cap(buf) <= maxPacketSize && cap(buf) > cap(b.buf) {
		b.buf = buf[:cap(buf)]
	}
	return nil
}
