// Package connlivecheck implements the zero-byte socket peek that lets
// a connection pulled out of an idle pool detect a server-closed socket
// before the first write on it (spec.md section 7: a connection that
// failed its liveness probe must surface ErrBadConn instead of writing
// into a dead socket). It is split out like go-sql-driver/mysql's own
// conncheck.go because the underlying syscall is platform-specific.
package connlivecheck

import "net"

// Check reports whether conn still has a live peer by attempting a
// zero-byte, non-blocking read. A readable-but-empty socket means the
// peer sent a FIN (closed); any read error other than "would block"
// means the socket is dead. Platforms without a RawConn-based peek
// implementation treat every connection as live, matching
// go-sql-driver's conncheck_other.go fallback.
var Check func(c net.Conn) error = func(net.Conn) error { return nil }
