// Package pool implements the bounded connection pool described in
// spec.md §4.5, adapted from core/connection_pool.go's ConnPool: idle
// list, mutex-guarded state, background reaper/health-check ticker,
// sync.Once-guarded Close. Generalized from an unbounded, per-address
// idle cache to a single bounded pool (fixed max size, checkout timeout,
// FIFO wait queue, exhaustion reporting).
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/resp"
)

func pingCommand() resp.Command { return resp.NewCommand("PING") }

// State is a PoolEntry's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCheckedOut
	StateUnhealthy
)

// Mode selects the pool's concurrency contract, fixed at construction
// (spec.md §4.5 "mixing both models on the same pool is unsupported").
type Mode int

const (
	// ModeThreadSafe serializes checkout through a mutex-guarded FIFO
	// wait queue: at most one goroutine holds a given connection at a
	// time, and a blocked checkout wakes in submission order.
	ModeThreadSafe Mode = iota
	// ModeCooperative gates checkout with a buffered-channel semaphore
	// sized to the pool's max, matching spec.md §5's "suspending while
	// holding a connection is allowed" contract for cooperative-task
	// schedulers.
	ModeCooperative
)

// Factory dials a new backing connection for the pool.
type Factory func(ctx context.Context) (*conn.Connection, error)

// Config configures a Pool.
type Config struct {
	Factory             Factory
	MaxSize             int
	CheckoutTimeout     time.Duration
	HealthCheckInterval time.Duration // 0 disables the background health-refresh ticker
	Mode                Mode
	Dispatcher          *event.Dispatcher
}

// PoolExhaustedError reports a checkout that could not be satisfied
// within the configured timeout.
type PoolExhaustedError struct {
	Size    int
	Timeout time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("pool: exhausted (size=%d, timeout=%s)", e.Size, e.Timeout)
}

// ErrPoolClosed is returned by Checkout once Close has been called.
var ErrPoolClosed = fmt.Errorf("pool: closed")

type entry struct {
	conn         *conn.Connection
	state        State
	checkedOutAt time.Time
	createdAt    time.Time
}

// Pool is a bounded pool of *conn.Connection, checked out and returned
// by callers around each unit of work.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	idle    []*entry
	numOpen int
	waiters *list.List // of chan *entry, FIFO

	sem chan struct{} // ModeCooperative only

	closing   bool
	closeOnce sync.Once
	stop      context.CancelFunc
	g         *errgroup.Group
}

// New constructs a Pool and, if cfg.HealthCheckInterval > 0, starts its
// background health-refresh loop.
func New(cfg Config) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{
		cfg:     cfg,
		waiters: list.New(),
		stop:    cancel,
		g:       g,
	}
	if cfg.Mode == ModeCooperative {
		p.sem = make(chan struct{}, cfg.MaxSize)
	}
	p.publish(event.PoolCreated, nil)
	if cfg.HealthCheckInterval > 0 {
		g.Go(func() error { return p.healthLoop(gctx) })
	}
	return p
}

// Checkout returns a healthy connection, preferring an idle one; failing
// that it dials a new connection up to MaxSize, and failing that it
// waits in FIFO order until one is returned or CheckoutTimeout elapses.
func (p *Pool) Checkout(ctx context.Context) (*conn.Connection, error) {
	start := time.Now()
	var deadline time.Time
	if p.cfg.CheckoutTimeout > 0 {
		deadline = start.Add(p.cfg.CheckoutTimeout)
	}

	if p.cfg.Mode == ModeCooperative {
		if err := p.acquireSem(ctx, deadline); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		p.releaseSem()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		e := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		e.state = StateCheckedOut
		e.checkedOutAt = time.Now()
		p.publish(event.ConnectionAcquired, map[string]any{
			"wait_time": time.Since(start),
			"active":    p.numOpen - len(p.idle),
			"idle":      len(p.idle),
		})
		return e.conn, nil
	}
	if p.numOpen < p.cfg.MaxSize {
		p.numOpen++
		p.mu.Unlock()
		c, err := p.cfg.Factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.numOpen--
			p.mu.Unlock()
			p.releaseSem()
			return nil, err
		}
		p.publish(event.ConnectionCreated, nil)
		p.publish(event.ConnectionAcquired, map[string]any{
			"wait_time": time.Since(start),
			"active":    p.numOpen,
			"idle":      len(p.idle),
		})
		return c, nil
	}

	// Pool is at MaxSize with no idle entries: wait in FIFO order.
	ch := make(chan *entry, 1)
	elem := p.waiters.PushBack(ch)
	p.mu.Unlock()

	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			p.removeWaiter(elem)
			p.releaseSem()
			return nil, &PoolExhaustedError{Size: p.cfg.MaxSize, Timeout: p.cfg.CheckoutTimeout}
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case e := <-ch:
		p.publish(event.ConnectionAcquired, map[string]any{"wait_time": time.Since(start)})
		return e.conn, nil
	case <-timeoutCh:
		p.removeWaiter(elem)
		p.releaseSem()
		p.publish(event.PoolExhausted, map[string]any{"size": p.cfg.MaxSize, "timeout": p.cfg.CheckoutTimeout})
		return nil, &PoolExhaustedError{Size: p.cfg.MaxSize, Timeout: p.cfg.CheckoutTimeout}
	case <-ctx.Done():
		p.removeWaiter(elem)
		p.releaseSem()
		return nil, ctx.Err()
	}
}

func (p *Pool) acquireSem(ctx context.Context, deadline time.Time) error {
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-timeoutCh:
		return &PoolExhaustedError{Size: p.cfg.MaxSize, Timeout: p.cfg.CheckoutTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) releaseSem() {
	if p.cfg.Mode == ModeCooperative {
		select {
		case <-p.sem:
		default:
		}
	}
}

func (p *Pool) removeWaiter(elem *list.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiters.Remove(elem)
}

// Outcome tells Return whether the checked-out connection is still
// healthy.
type Outcome int

const (
	Success Outcome = iota
	Error
)

// Return hands a connection back to the pool. On Error outcome the
// connection is closed and not replaced eagerly — the next Checkout
// dials a new one.
func (p *Pool) Return(c *conn.Connection, outcome Outcome) {
	defer p.releaseSem()

	if outcome == Error {
		p.mu.Lock()
		p.numOpen--
		p.mu.Unlock()
		c.Close(event.ReasonError)
		p.publish(event.ConnectionClosed, map[string]any{"reason": event.ReasonError})
		return
	}

	e := &entry{conn: c, state: StateIdle, createdAt: time.Now()}

	p.mu.Lock()
	if p.closing {
		p.numOpen--
		p.mu.Unlock()
		c.Close(event.ReasonPoolEviction)
		return
	}
	if p.waiters.Len() > 0 {
		front := p.waiters.Front()
		p.waiters.Remove(front)
		ch := front.Value.(chan *entry)
		p.mu.Unlock()
		e.state = StateCheckedOut
		e.checkedOutAt = time.Now()
		ch <- e
		return
	}
	p.idle = append(p.idle, e)
	p.mu.Unlock()
	p.publish(event.ConnectionReleased, nil)
}

// healthLoop pings idle connections on a ticker and evicts failures.
func (p *Pool) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.refreshIdle(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pool) refreshIdle(ctx context.Context) {
	p.mu.Lock()
	candidates := make([]*entry, len(p.idle))
	copy(candidates, p.idle)
	p.mu.Unlock()

	deadline := time.Now().Add(p.cfg.HealthCheckInterval / 2)
	for _, e := range candidates {
		_, err := e.conn.Call(pingCommand(), deadline)
		if err != nil {
			logrus.Warnf("pool: health check failed, evicting connection: %v", err)
			p.evict(e)
		}
	}
}

func (p *Pool) evict(target *entry) {
	p.mu.Lock()
	for i, e := range p.idle {
		if e == target {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.numOpen--
			break
		}
	}
	p.mu.Unlock()
	target.conn.Close(event.ReasonError)
	p.publish(event.ConnectionClosed, map[string]any{"reason": event.ReasonError})
}

// Stats reports the current pool occupancy.
type Stats struct {
	Idle int
	Open int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Open: p.numOpen}
}

// Close drains the pool: refuses new checkouts, waits up to grace for
// outstanding connections to be returned (Return closes each one handed
// back meanwhile), then closes every idle connection. The pool keeps no
// reference to checked-out connections, so any still outstanding when
// grace expires are not closed by Close.
func (p *Pool) Close(grace time.Duration) error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()
		p.stop()
		p.g.Wait()

		deadline := time.Now().Add(grace)
		for {
			p.mu.Lock()
			outstanding := p.numOpen - len(p.idle)
			p.mu.Unlock()
			if outstanding <= 0 || time.Now().After(deadline) {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		p.mu.Lock()
		for _, e := range p.idle {
			_ = e.conn.Close(event.ReasonShutdown)
		}
		p.idle = nil
		p.numOpen = 0
		p.mu.Unlock()
		p.publish(event.PoolReset, nil)
	})
	return err
}

func (p *Pool) publish(t event.Type, fields map[string]any) {
	if p.cfg.Dispatcher == nil {
		return
	}
	p.cfg.Dispatcher.Publish(event.New(t, fields))
}
