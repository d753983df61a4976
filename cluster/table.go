// Package cluster implements the hash-slot topology routing described in
// spec.md §4.8: CRC16-XMODEM key hashing, a slot map filled by explicit
// or periodic refreshes, and MOVED/ASK redirect parsing.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/resp"
)

// QueryFunc dials (or reuses) a connection to one of the configured seed
// addresses and returns the decoded CLUSTER SLOTS reply.
type QueryFunc func(ctx context.Context) (resp.Value, error)

// TableConfig configures a Table.
type TableConfig struct {
	Query           QueryFunc
	RefreshInterval time.Duration // 0 disables the periodic refresh loop
	Dispatcher      *event.Dispatcher
}

// Table is the client's view of which node address owns each of the
// 16384 hash slots. The map is filled by Refresh, either called by the
// caller or run on a configurable periodic interval; Apply patches a
// single slot, e.g. after a MOVED redirect. Lookup does not trigger a
// refresh on an empty map, and Table does not itself react to MOVED
// replies. Concurrent refreshes are coalesced to a single outstanding
// request via singleflight.
type Table struct {
	cfg TableConfig

	mu    sync.RWMutex
	slots [slotCount]string

	sf     singleflight.Group
	g      *errgroup.Group
	cancel context.CancelFunc
}

func NewTable(cfg TableConfig) *Table {
	return &Table{cfg: cfg}
}

// Lookup returns the address owning slot, or ("", false) if unknown.
func (t *Table) Lookup(slot int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr := t.slots[slot]
	return addr, addr != ""
}

// AddrForKey is a convenience wrapper combining KeySlot and Lookup.
func (t *Table) AddrForKey(key string) (string, bool) {
	return t.Lookup(KeySlot(key))
}

// Apply installs addr as the owner of slot, e.g. after a MOVED redirect.
// This does not trigger a full refresh — spec.md §4.8 treats a single
// MOVED as authoritative for that one slot.
func (t *Table) Apply(slot int, addr string) {
	t.mu.Lock()
	t.slots[slot] = addr
	t.mu.Unlock()
}

// Refresh re-queries topology and replaces the slot map. Concurrent
// callers collapse onto one in-flight query.
func (t *Table) Refresh(ctx context.Context) error {
	_, err, _ := t.sf.Do("refresh", func() (any, error) {
		v, qerr := t.cfg.Query(ctx)
		if qerr != nil {
			return nil, qerr
		}
		ranges, perr := parseClusterSlots(v)
		if perr != nil {
			return nil, perr
		}
		var next [slotCount]string
		for _, r := range ranges {
			for s := r.start; s <= r.end; s++ {
				next[s] = r.addr
			}
		}
		t.mu.Lock()
		t.slots = next
		t.mu.Unlock()
		t.publish(event.TopologyRefreshed, map[string]any{"ranges": len(ranges)})
		return nil, nil
	})
	return err
}

func (t *Table) publish(typ event.Type, fields map[string]any) {
	if t.cfg.Dispatcher == nil {
		return
	}
	t.cfg.Dispatcher.Publish(event.New(typ, fields))
}

// StartPeriodicRefresh launches a background refresh loop on
// cfg.RefreshInterval, supervised by an errgroup. A no-op if
// RefreshInterval is 0.
func (t *Table) StartPeriodicRefresh(ctx context.Context) {
	if t.cfg.RefreshInterval <= 0 {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	t.cancel = cancel
	t.g = g
	g.Go(func() error {
		ticker := time.NewTicker(t.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = t.Refresh(gctx)
			case <-gctx.Done():
				return nil
			}
		}
	})
}

// StopPeriodicRefresh cancels the background refresh loop, if running.
func (t *Table) StopPeriodicRefresh() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.g.Wait()
}

type slotRange struct {
	start, end int
	addr       string
}

// parseClusterSlots decodes CLUSTER SLOTS's reply shape: an array of
// [start, end, [host, port, ...], [replica host, port, ...], ...].
func parseClusterSlots(v resp.Value) ([]slotRange, error) {
	if v.Kind != resp.KindArray {
		return nil, fmt.Errorf("cluster: CLUSTER SLOTS: expected array reply, got %s", v.Kind)
	}
	ranges := make([]slotRange, 0, len(v.Arr))
	for _, entry := range v.Arr {
		if entry.Kind != resp.KindArray || len(entry.Arr) < 3 {
			return nil, fmt.Errorf("cluster: CLUSTER SLOTS: malformed slot range entry")
		}
		start := entry.Arr[0].Int
		end := entry.Arr[1].Int
		master := entry.Arr[2]
		if master.Kind != resp.KindArray || len(master.Arr) < 2 {
			return nil, fmt.Errorf("cluster: CLUSTER SLOTS: malformed master address")
		}
		host := string(master.Arr[0].Bytes)
		port := master.Arr[1].Int
		ranges = append(ranges, slotRange{start: int(start), end: int(end), addr: fmt.Sprintf("%s:%d", host, port)})
	}
	return ranges, nil
}

// AskingCommand is the one-shot command that must precede a retry on an
// ASK-redirected node, per spec.md §4.8.
func AskingCommand() resp.Command { return resp.NewCommand("ASKING") }
