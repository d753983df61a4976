// Package client is the top-level façade: it wires pool, reliability,
// tracking, cluster routing and Sentinel discovery together into the
// single entry point an application actually imports, generalizing the
// teacher's core/network.go NewNode constructor-wires-everything-together
// shape from a P2P host to a Redis-protocol client.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/synnergy/redisx/cluster"
	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/exec"
	"github.com/synnergy/redisx/pool"
	"github.com/synnergy/redisx/reliability"
	"github.com/synnergy/redisx/resp"
	"github.com/synnergy/redisx/sentinel"
	"github.com/synnergy/redisx/tracking"
)

// Config wires every optional subsystem together. Only Pool is required;
// Breaker, Retry, Cluster, Sentinel and Tracking are nil-safe and simply
// skipped when absent.
type Config struct {
	Pool       *pool.Pool
	Breaker    *reliability.CircuitBreaker
	Retry      *reliability.Policy
	Cluster    *cluster.Table
	Sentinel   *sentinel.Discoverer
	Tracking   *tracking.Cache
	Dispatcher *event.Dispatcher

	// DefaultTimeout bounds Call/Pipeline/Transaction operations that are
	// not given an explicit deadline.
	DefaultTimeout time.Duration
}

// Client is the single entry point wrapping a connection pool with the
// reliability middleware stack and optional topology awareness.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client { return &Client{cfg: cfg} }

func (c *Client) deadline(d time.Time) time.Time {
	if !d.IsZero() {
		return d
	}
	if c.cfg.DefaultTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.DefaultTimeout)
}

// withConn checks a connection out of the pool, runs fn with it, and
// returns it on the way out — reporting pool.Error/pool.Success so a
// connection that errored is not recycled into the idle list.
func (c *Client) withConn(ctx context.Context, fn func(*conn.Connection) error) error {
	cn, err := c.cfg.Pool.Checkout(ctx)
	if err != nil {
		return err
	}
	callErr := fn(cn)
	outcome := pool.Success
	if callErr != nil && reliability.IsTransient(callErr) {
		outcome = pool.Error
	}
	c.cfg.Pool.Return(cn, outcome)
	return callErr
}

// do runs fn, wrapped in the circuit breaker (if configured) and the
// retry policy (if configured), in that order: the breaker gates whether
// an attempt is made at all, the retry policy governs re-attempts of a
// transient failure.
func (c *Client) do(ctx context.Context, fn func(attempt int) error) error {
	run := func(attempt int) error {
		if c.cfg.Breaker == nil {
			return fn(attempt)
		}
		return c.cfg.Breaker.Execute(func() error { return fn(attempt) }, nil)
	}
	if c.cfg.Retry == nil {
		return run(0)
	}
	return c.cfg.Retry.Do(ctx, run)
}

// Call issues a single command through the pool, breaker and retry stack.
func (c *Client) Call(ctx context.Context, cmd resp.Command, deadline time.Time) (resp.Value, error) {
	var reply resp.Value
	err := c.do(ctx, func(int) error {
		return c.withConn(ctx, func(cn *conn.Connection) error {
			v, callErr := cn.Call(cmd, c.deadline(deadline))
			if callErr != nil {
				return callErr
			}
			if c.cfg.Tracking != nil {
				for _, push := range cn.DrainPushes() {
					c.cfg.Tracking.HandlePush(push)
				}
			}
			reply = v
			return nil
		})
	})
	return reply, err
}

// Pipeline runs p's batch through the pool, breaker and retry stack.
func (c *Client) Pipeline(ctx context.Context, p *exec.Pipeline, deadline time.Time) ([]resp.Value, error) {
	var replies []resp.Value
	err := c.do(ctx, func(int) error {
		return c.withConn(ctx, func(cn *conn.Connection) error {
			v, pipeErr := p.Exec(cn, c.deadline(deadline))
			if pipeErr != nil {
				return pipeErr
			}
			replies = v
			return nil
		})
	})
	return replies, err
}

// Transaction runs fn with a fresh *exec.Transaction bound to a checked-out
// connection; fn queues WATCH/commands and is responsible for calling Exec
// or Discard itself before returning.
func (c *Client) Transaction(ctx context.Context, fn func(*exec.Transaction) error) error {
	return c.withConn(ctx, func(cn *conn.Connection) error {
		return fn(exec.New(cn))
	})
}

// Subscribe opens a dedicated connection (subscriptions hold a connection
// exclusively for the life of the subscription, per spec.md §4.4) and
// returns the running *exec.Subscription.
func (c *Client) Subscribe(ctx context.Context, kind exec.Kind, names []string, handler exec.Handler) (*exec.Subscription, error) {
	cn, err := c.cfg.Pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	return exec.Subscribe(ctx, cn, kind, names, handler)
}

// AddrForKey resolves key's owning node address via the cluster topology
// table, if one is configured.
func (c *Client) AddrForKey(key string) (string, bool) {
	if c.cfg.Cluster == nil {
		return "", false
	}
	return c.cfg.Cluster.AddrForKey(key)
}

// DiscoverMaster runs Sentinel discovery, if configured, returning a
// fresh connection to the current master.
func (c *Client) DiscoverMaster(ctx context.Context) (*conn.Connection, string, error) {
	if c.cfg.Sentinel == nil {
		return nil, "", fmt.Errorf("client: no sentinel discoverer configured")
	}
	return c.cfg.Sentinel.Discover(ctx)
}
