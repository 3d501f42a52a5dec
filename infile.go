// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	fileRegisterLock sync.RWMutex
	fileRegister     = make(map[string]bool)
	readerRegisterLock sync.RWMutex
	readerRegister      = make(map[string]func() io.Reader)
)

// RegisterLocalFile adds the given file to the file allowlist consulted
// by handleInFileRequest, so "LOAD DATA LOCAL INFILE '<name>'" is
// permitted even when AllowAllFiles is false (spec.md section 9's
// LOAD LOCAL INFILE opt-in policy).
func RegisterLocalFile(filePath string) {
	fileRegisterLock.Lock()
	defer fileRegisterLock.Unlock()
	fileRegister[strings.Trim(filePath, `"`)] = true
}

// DeregisterLocalFile removes a file from the allowlist.
func DeregisterLocalFile(filePath string) {
	fileRegisterLock.Lock()
	defer fileRegisterLock.Unlock()
	delete(fileRegister, strings.Trim(filePath, `"`))
}

// RegisterReaderHandler registers a named io.Reader factory so
// "LOAD DATA LOCAL INFILE 'Reader::<name>'" streams from in-process data
// instead of a filesystem path — the same escape hatch go-sql-driver
// exposes for reading from memory or a network source.
func RegisterReaderHandler(name string, handler func() io.Reader) {
	readerRegisterLock.Lock()
	defer readerRegisterLock.Unlock()
	readerRegister[name] = handler
}

// DeregisterReaderHandler removes a registered reader factory.
func DeregisterReaderHandler(name string) {
	readerRegisterLock.Lock()
	defer readerRegisterLock.Unlock()
	delete(readerRegister, name)
}

func deferredClose(closer io.Closer, err *error) {
	closeErr := closer.Close()
	if *err == nil {
		*err = closeErr
	}
}

// handleInFileRequest responds to a 0xFB LOCAL INFILE request (spec.md
// section 9): the connection enters In-LocalInfile mode, streams the
// requested source as ≤16 MiB packets, then sends a single empty packet
// to terminate — exactly like any other oversized packet sequence.
// A request naming an unregistered Reader handler returns a
// ProtocolError. Multi-result-set boundaries during the transfer are not
// checked for.
func (mc *mysqlConn) handleInFileRequest(name string) (err error) {
	if atomic.CompareAndSwapInt32(&mc.mode, int32(modeCommand), int32(modeInLocalInfile)) {
		defer atomic.CompareAndSwapInt32(&mc.mode, int32(modeInLocalInfile), int32(modeCommand))
	}

	var rdr io.Reader
	var data []byte
	packetSize := 16 * 1024 // 16KB per packet chunk, reused for the data slice below

	if mc.maxWriteSize < packetSize {
		packetSize = mc.maxWriteSize
	}

	if idx := strings.Index(name, "Reader::"); idx >= 0 {
		readerRegisterLock.RLock()
		handler, inMap := readerRegister[name[idx+8:]]
		readerRegisterLock.RUnlock()
		if inMap {
			rdr = handler()
			if c, ok := rdr.(io.Closer); ok {
				defer deferredClose(c, &err)
			}
		} else {
			err = &ProtocolError{Detail: "local infile request for an unregistered Reader handler"}
		}
	} else {
		fileRegisterLock.RLock()
		allowed := fileRegister[name]
		fileRegisterLock.RUnlock()
		if mc.cfg.AllowAllFiles || allowed {
			var file *os.File
			file, err = os.Open(name)
			if err == nil {
				rdr = file
				defer deferredClose(file, &err)
			}
		} else if mc.cfg.LocalInfilePolicy != nil && mc.cfg.LocalInfilePolicy(name) {
			var file *os.File
			file, err = os.Open(name)
			if err == nil {
				rdr = file
				defer deferredClose(file, &err)
			}
		} else {
			err = ErrLocalInfileDenied
		}
	}

	// send content packets
	if err == nil {
		data, err = mc.buf.takeBuffer(4 + packetSize)
		for err == nil {
			var n int
			n, err = rdr.Read(data[4:])
			if n > 0 {
				if ioErr := mc.writePacket(data[:4+n]); ioErr != nil {
					return ioErr
				}
			}
			if err == io.EOF {
				err = nil
				break
			}
		}
	}

	// send empty packet to terminate, regardless of error
	if data == nil {
		data = make([]byte, 4)
	}
	if ioErr := mc.writePacket(data[:4]); ioErr != nil {
		if err == nil {
			err = ioErr
		}
	}

	// Read the server's final OK/ERR regardless of client-side errors, so
	// the connection stays packet-sequence-synchronized for the next
	// command even when the local source failed to open or stream.
	if resErr := mc.readResultOK(); err == nil {
		err = resErr
	} else if err == ErrLocalInfileDenied && resErr != nil {
		err = &LocalInfileError{Filename: name, Err: resErr}
	}
	return err
}
