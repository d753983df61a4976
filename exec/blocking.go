package exec

import (
	"time"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/resp"
)

// Blocking runs a pop-with-timeout/stream-read-with-block style command
// under the caller-supplied deadline, which overrides the connection's
// default timeout (spec.md §4.4 "Blocking commands"). The connection is
// held exclusively for the call's duration — conn.Call holds the
// connection's mutex for the whole round trip, so other calls on the same
// *Connection wait until it completes; this wrapper exists mainly to
// name the execution mode and make the deadline override explicit at call
// sites.
func Blocking(c *conn.Connection, cmd resp.Command, deadline time.Time) (resp.Value, error) {
	return c.Call(cmd, deadline)
}
