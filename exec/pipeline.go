// Package exec implements the four higher-order execution modes built on
// top of conn.Connection: pipeline batching, MULTI/WATCH/EXEC transactions,
// blocking-command deadline handling, and the subscription receive loop
// (spec.md §4.4).
package exec

import (
	"time"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/resp"
)

// Pipeline accumulates commands into a buffer before a single flush, per
// spec.md §4.4 "Pipeline": the caller receives a reply vector aligned 1:1
// with submitted commands, and a per-command ServerError does not abort
// the rest of the batch.
type Pipeline struct {
	cmds []resp.Command
}

func NewPipeline() *Pipeline { return &Pipeline{} }

// Queue appends cmd to the batch and returns the Pipeline for chaining.
func (p *Pipeline) Queue(cmd resp.Command) *Pipeline {
	p.cmds = append(p.cmds, cmd)
	return p
}

// Len reports the number of commands queued so far.
func (p *Pipeline) Len() int { return len(p.cmds) }

// Exec flushes every queued command over c in one transport write and
// returns the replies in submission order.
func (p *Pipeline) Exec(c *conn.Connection, deadline time.Time) ([]resp.Value, error) {
	return c.CallPipeline(p.cmds, deadline)
}
