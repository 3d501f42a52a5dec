package mysql

import (
	"net"

	"github.com/xcxnig/cymysql/internal/connlivecheck"
)

// connCheck is consulted by writePacket before the first write on a
// connection just pulled out of the pool (spec.md section 4.8's health
// ping), gated on Config.CheckConnLiveness.
func connCheck(c net.Conn) error {
	return connlivecheck.Check(c)
}
