package exec

import (
	"time"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/resp"
)

// Transaction wraps a pipeline with MULTI first and EXEC last, per
// spec.md §4.4. Per the Open Question decision recorded in DESIGN.md, a
// Transaction owns its *conn.Connection exclusively for its whole
// WATCH...MULTI...EXEC lifetime — the caller must not return the
// connection to a pool until Exec (or Discard) completes.
type Transaction struct {
	conn *conn.Connection
	cmds []resp.Command
}

// New starts a transaction bound to c. Call Watch before Queue if the
// transaction needs optimistic-concurrency guards on a key set.
func New(c *conn.Connection) *Transaction {
	return &Transaction{conn: c}
}

// Watch binds the transaction to the unchanged state of keys: any change
// to any of them between Watch and Exec causes EXEC to return null.
func (t *Transaction) Watch(deadline time.Time, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := append([]string{"WATCH"}, keys...)
	if _, err := t.conn.Call(resp.NewCommand(args...), deadline); err != nil {
		return err
	}
	t.conn.SetWatchedKeys(keys)
	return nil
}

// Queue adds a command to run inside MULTI/EXEC.
func (t *Transaction) Queue(cmd resp.Command) *Transaction {
	t.cmds = append(t.cmds, cmd)
	return t
}

// Result is the outcome of Exec. Aborted is set when EXEC's reply was a
// null array (a watched key changed); Replies is empty in that case.
type Result struct {
	Aborted bool
	Replies []resp.Value
}

// Exec sends MULTI, every queued command, and EXEC as a single pipeline,
// then unpacks EXEC's array reply into Result. The inline QUEUED replies
// for MULTI's body are discarded; only EXEC's reply carries real results.
func (t *Transaction) Exec(deadline time.Time) (*Result, error) {
	t.conn.SetState(conn.StateInTransaction)
	defer t.conn.SetState(conn.StateReady)

	all := make([]resp.Command, 0, len(t.cmds)+2)
	all = append(all, resp.NewCommand("MULTI"))
	all = append(all, t.cmds...)
	all = append(all, resp.NewCommand("EXEC"))

	replies, err := t.conn.CallPipeline(all, deadline)
	if err != nil {
		return nil, err
	}
	execReply := replies[len(replies)-1]
	if execReply.IsNull() {
		return &Result{Aborted: true}, nil
	}
	return &Result{Replies: execReply.Arr}, nil
}

// Discard abandons a started transaction, unwatching any bound keys.
// It is a no-op if Exec has not been preceded by a Watch.
func (t *Transaction) Discard(deadline time.Time) error {
	if len(t.conn.WatchedKeys()) == 0 {
		return nil
	}
	_, err := t.conn.Call(resp.NewCommand("UNWATCH"), deadline)
	return err
}
