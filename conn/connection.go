// Package conn implements one live session over the wire protocol: dial,
// handshake, call/pipeline/subscribe/close, and lifecycle event emission
// (spec.md §4.3).
package conn

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/iobuf"
	"github.com/synnergy/redisx/resp"
	"github.com/synnergy/redisx/transport"
)

// State is one node of the connection lifecycle state machine from
// spec.md: Idle -> Connected -> Handshaken -> Ready -> {Busy | Subscribed |
// InTransaction} -> Closed.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateHandshaken
	StateReady
	StateBusy
	StateSubscribed
	StateInTransaction
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnected:
		return "Connected"
	case StateHandshaken:
		return "Handshaken"
	case StateReady:
		return "Ready"
	case StateBusy:
		return "Busy"
	case StateSubscribed:
		return "Subscribed"
	case StateInTransaction:
		return "InTransaction"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// TrackingMode mirrors the CLIENT TRACKING modes from spec.md §4.7. It is
// declared here (rather than imported from tracking/) so conn/ has no
// dependency on the cache package; tracking/ depends on conn/, not the
// other way around.
type TrackingMode string

const (
	TrackingDefault   TrackingMode = "default"
	TrackingOptIn     TrackingMode = "optin"
	TrackingOptOut    TrackingMode = "optout"
	TrackingBroadcast TrackingMode = "broadcast"
)

// Config carries everything the handshake needs.
type Config struct {
	Dialer  transport.Dialer
	Address string

	Username string
	Password string

	ClientName    string
	DatabaseIndex int

	// ProtocolVersion is the preferred version to negotiate; 3 unless the
	// caller has a specific reason to pin to 2.
	ProtocolVersion int

	EnableTracking bool
	TrackingMode   TrackingMode
	TrackingPrefixes []string // for Broadcast mode

	Timeout time.Duration

	Dispatcher *event.Dispatcher
}

// HandshakeError wraps any failure during connect/handshake, per spec.md §6.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string { return fmt.Sprintf("conn: handshake step %q: %v", e.Step, e.Err) }
func (e *HandshakeError) Unwrap() error { return e.Err }

// ConnectError wraps a transport-level dial failure.
type ConnectError struct{ Err error }

func (e *ConnectError) Error() string { return fmt.Sprintf("conn: connect: %v", e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// Connection is one live session: transport, handshake, read/write frame,
// lifecycle event emission. It is not safe for concurrent use by multiple
// goroutines issuing Call/CallPipeline/Subscribe simultaneously — that
// exclusivity is exactly what pool/ and exec/ coordinate above this layer.
type Connection struct {
	cfg Config

	nc net.Conn
	r  *iobuf.Reader
	w  *iobuf.Writer
	d  *resp.Decoder

	mu                sync.Mutex
	state             State
	protocolVersion   int
	authenticated     bool
	name              string
	databaseIndex     int
	watchedKeys       []string
	pendingPushes     []resp.Value
	lastActivityAt    time.Time
	createdByPID      int

	closeOnce sync.Once
}

// Connect establishes the transport and performs the handshake sequence
// described in spec.md §4.3.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = 3
	}
	if cfg.Dialer == nil {
		cfg.Dialer = transport.NewTCPDialer(cfg.Timeout, 0)
	}

	publish(cfg.Dispatcher, event.Connecting, map[string]any{"address": cfg.Address})

	rawConn, err := cfg.Dialer.Dial(ctx, cfg.Address)
	if err != nil {
		publish(cfg.Dispatcher, event.HandshakeFailed, map[string]any{"step": "dial", "error": err.Error()})
		return nil, &ConnectError{Err: err}
	}

	c := &Connection{
		cfg:             cfg,
		nc:              rawConn,
		r:               iobuf.NewReader(rawConn),
		w:               iobuf.NewWriter(rawConn),
		d:               resp.NewDecoder(cfg.ProtocolVersion),
		state:           StateConnected,
		protocolVersion: cfg.ProtocolVersion,
		databaseIndex:   cfg.DatabaseIndex,
		lastActivityAt:  time.Now(),
		createdByPID:    os.Getpid(),
	}

	publish(cfg.Dispatcher, event.Connected, map[string]any{"first_time": true})

	if err := c.handshake(); err != nil {
		rawConn.Close()
		publish(cfg.Dispatcher, event.HandshakeFailed, map[string]any{"error": err.Error()})
		return nil, err
	}
	c.state = StateReady
	logrus.Debugf("conn: handshake complete for %s (protocol %d)", cfg.Address, c.protocolVersion)
	return c, nil
}

func (c *Connection) deadline() time.Time {
	if c.cfg.Timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.cfg.Timeout)
}

// handshake performs, in order, HELLO/AUTH fallback, CLIENT SETNAME, SELECT,
// CLIENT TRACKING ON — skipping steps whose inputs are absent.
func (c *Connection) handshake() error {
	if err := c.helloOrAuth(); err != nil {
		return err
	}
	if c.cfg.ClientName != "" {
		if _, err := c.rawCall(resp.NewCommand("CLIENT", "SETNAME", c.cfg.ClientName)); err != nil {
			return &HandshakeError{Step: "CLIENT SETNAME", Err: err}
		}
		c.name = c.cfg.ClientName
	}
	if c.cfg.DatabaseIndex != 0 {
		if _, err := c.rawCall(resp.NewCommand("SELECT", strconv.Itoa(c.cfg.DatabaseIndex))); err != nil {
			return &HandshakeError{Step: "SELECT", Err: err}
		}
	}
	if c.cfg.EnableTracking && c.protocolVersion == 3 {
		args := []string{"CLIENT", "TRACKING", "ON"}
		switch c.cfg.TrackingMode {
		case TrackingOptIn:
			args = append(args, "OPTIN")
		case TrackingOptOut:
			args = append(args, "OPTOUT")
		case TrackingBroadcast:
			args = append(args, "BCAST")
			for _, p := range c.cfg.TrackingPrefixes {
				args = append(args, "PREFIX", p)
			}
		}
		if _, err := c.rawCall(resp.NewCommand(args...)); err != nil {
			return &HandshakeError{Step: "CLIENT TRACKING", Err: err}
		}
	}
	c.state = StateHandshaken
	return nil
}

// helloOrAuth attempts HELLO 3 [AUTH user pass]; on unknown-command/wrong
// arity it falls back to AUTH + protocol_version := 2, per spec.md §4.3.
func (c *Connection) helloOrAuth() error {
	args := []string{"HELLO", "3"}
	if c.cfg.Password != "" {
		args = append(args, "AUTH")
		if c.cfg.Username != "" {
			args = append(args, c.cfg.Username)
		} else {
			args = append(args, "default")
		}
		args = append(args, c.cfg.Password)
	}
	_, err := c.rawCall(resp.NewCommand(args...))
	if err == nil {
		c.authenticated = c.cfg.Password != ""
		return nil
	}
	if se, ok := err.(*resp.Error); ok && isUnknownCommand(se) {
		return c.legacyAuthFallback()
	}
	return &HandshakeError{Step: "HELLO", Err: err}
}

func (c *Connection) legacyAuthFallback() error {
	c.protocolVersion = 2
	c.d = resp.NewDecoder(2)
	if c.cfg.Password != "" {
		var err error
		if c.cfg.Username != "" {
			_, err = c.rawCall(resp.NewCommand("AUTH", c.cfg.Username, c.cfg.Password))
		} else {
			_, err = c.rawCall(resp.NewCommand("AUTH", c.cfg.Password))
		}
		if err != nil {
			return &HandshakeError{Step: "AUTH", Err: err}
		}
		c.authenticated = true
	}
	return nil
}

// isUnknownCommand matches the two ways a server signals "HELLO is not
// implemented": ERR unknown command, or wrong arity. Either means the
// server predates RESP3 and the connection must fall back to protocol 2.
func isUnknownCommand(e *resp.Error) bool {
	msg := strings.ToLower(e.Message)
	return e.Prefix == "ERR" && (strings.Contains(msg, "unknown command") || strings.Contains(msg, "wrong number of arguments"))
}

// rawCall writes one command and reads one non-push reply, without state
// machine checks — used internally during handshake before the connection
// reaches Ready.
func (c *Connection) rawCall(cmd resp.Command) (resp.Value, error) {
	dl := c.deadline()
	c.w.Append(cmd.Encode(nil))
	if err := c.w.Flush(dl); err != nil {
		return resp.Value{}, err
	}
	return c.readReply(dl)
}

// readReply reads frames from the wire until it sees a non-push value,
// queuing any push frames encountered along the way to pendingPushes. It is
// used by Call and by the handshake's rawCall, where a write is already in
// flight awaiting its reply, so any failure — including a timeout — leaves
// the protocol stream in an ambiguous state and must close the connection.
func (c *Connection) readReply(dl time.Time) (resp.Value, error) {
	for {
		v, err := c.decodeOne(dl, true)
		if err != nil {
			return resp.Value{}, err
		}
		if v.Kind == resp.KindPush {
			c.pendingPushes = append(c.pendingPushes, v)
			continue
		}
		if v.Kind == resp.KindError {
			return v, v.Err
		}
		return v, nil
	}
}

// decodeOne reads exactly one value off the wire. closeOnTimeout governs
// whether an iobuf.ErrTimeout expiry closes the connection: Call/
// CallPipeline always have a write in flight when they read, so a timeout
// there is ambiguous and fatal; ReadPush's idle poll between subscription
// messages has nothing in flight and may simply be retried by the caller.
func (c *Connection) decodeOne(dl time.Time, closeOnTimeout bool) (resp.Value, error) {
	for {
		v, n, err := c.d.Decode(c.r.Peek())
		if err == nil {
			c.r.Consume(n)
			c.lastActivityAt = time.Now()
			return v, nil
		}
		if err != resp.ErrIncomplete {
			c.closeLocked(event.ReasonError)
			return resp.Value{}, err
		}
		if _, ferr := c.r.Fill(len(c.r.Peek())+1, dl); ferr != nil {
			if ferr == iobuf.ErrTimeout && !closeOnTimeout {
				return resp.Value{}, ferr
			}
			reason := event.ReasonError
			if ferr == iobuf.ErrTimeout {
				reason = event.ReasonTimeout
			}
			c.closeLocked(reason)
			return resp.Value{}, ferr
		}
	}
}

// Send writes a single command and flushes it without waiting for a reply.
// It exists for commands whose acknowledgement arrives as a push frame
// rather than a regular reply — notably UNSUBSCRIBE/PUNSUBSCRIBE while a
// connection is in subscription mode, where Call's push-skipping readReply
// would never see a non-push value to return.
func (c *Connection) Send(cmd resp.Command, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return fmt.Errorf("conn: send on closed connection")
	}
	if deadline.IsZero() {
		deadline = c.deadline()
	}
	c.w.Append(cmd.Encode(nil))
	if err := c.w.Flush(deadline); err != nil {
		c.closeLocked(event.ReasonError)
		return err
	}
	return nil
}

// Call writes a single command and reads the next non-push reply.
func (c *Connection) Call(cmd resp.Command, deadline time.Time) (resp.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return resp.Value{}, fmt.Errorf("conn: call on closed connection")
	}
	prev := c.state
	c.state = StateBusy
	defer func() {
		if c.state == StateBusy {
			c.state = prev
		}
	}()
	if deadline.IsZero() {
		deadline = c.deadline()
	}
	c.w.Append(cmd.Encode(nil))
	if err := c.w.Flush(deadline); err != nil {
		c.closeLocked(event.ReasonError)
		return resp.Value{}, err
	}
	return c.readReply(deadline)
}

// CallPipeline writes all commands in one transport write where possible
// and reads back the same number of non-push replies, in order.
func (c *Connection) CallPipeline(cmds []resp.Command, deadline time.Time) ([]resp.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, fmt.Errorf("conn: pipeline on closed connection")
	}
	prev := c.state
	c.state = StateBusy
	defer func() {
		if c.state == StateBusy {
			c.state = prev
		}
	}()
	if deadline.IsZero() {
		deadline = c.deadline()
	}
	var buf []byte
	for _, cmd := range cmds {
		buf = cmd.Encode(buf)
	}
	c.w.Append(buf)
	if err := c.w.Flush(deadline); err != nil {
		c.closeLocked(event.ReasonError)
		return nil, err
	}
	out := make([]resp.Value, 0, len(cmds))
	for range cmds {
		v, rerr := c.decodeOne(deadline, true)
		if rerr != nil {
			return nil, rerr
		}
		for v.Kind == resp.KindPush {
			c.pendingPushes = append(c.pendingPushes, v)
			v, rerr = c.decodeOne(deadline, true)
			if rerr != nil {
				return nil, rerr
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// Subscribe sends the entry command for the given subscription kind and
// transitions the connection into Subscribed mode. The caller drives the
// receive loop via ReadPush (see exec/subscription.go).
func (c *Connection) Subscribe(cmd resp.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dl := c.deadline()
	c.w.Append(cmd.Encode(nil))
	if err := c.w.Flush(dl); err != nil {
		c.closeLocked(event.ReasonError)
		return err
	}
	c.state = StateSubscribed
	return nil
}

// ReadPush pops a queued push frame or reads the next one from the wire.
// Unlike Call/CallPipeline, an iobuf.ErrTimeout here does not close the
// connection: nothing was written awaiting this reply, so the caller (the
// subscription loop) may simply call ReadPush again. Callers should pass a
// bounded deadline so a concurrent Close can still acquire the connection
// between polls rather than waiting on an unbounded blocking read.
func (c *Connection) ReadPush(deadline time.Time) (resp.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pendingPushes) > 0 {
		v := c.pendingPushes[0]
		c.pendingPushes = c.pendingPushes[1:]
		return v, nil
	}
	return c.decodeOne(deadline, false)
}

// DrainPushes removes and returns every push frame queued by Call/
// CallPipeline while they were reading past an out-of-band invalidation
// message. tracking.Cache calls this after each round-trip to pick up
// CLIENT TRACKING invalidation pushes, which can arrive interleaved with
// ordinary command replies on a connection that is not in subscription
// mode.
func (c *Connection) DrainPushes() []resp.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pendingPushes) == 0 {
		return nil
	}
	drained := c.pendingPushes
	c.pendingPushes = nil
	return drained
}

// SetState is used by exec/ to mark In-transaction / Ready transitions
// around a MULTI...EXEC sequence without exposing internal locking.
func (c *Connection) SetState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ProtocolVersion reports the negotiated protocol version (2 or 3).
func (c *Connection) ProtocolVersion() int { return c.protocolVersion }

// SetWatchedKeys records the keys bound by a WATCH issued before MULTI, so
// exec/'s transaction wrapper can track what EXEC's null reply aborted.
func (c *Connection) SetWatchedKeys(keys []string) {
	c.mu.Lock()
	c.watchedKeys = keys
	c.mu.Unlock()
}

// WatchedKeys returns the keys currently bound by WATCH.
func (c *Connection) WatchedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchedKeys
}

// NeedsReconnect reports whether this connection was created in a different
// process than the current one (post-fork reuse), per spec.md §4.3 "Fork
// safety".
func (c *Connection) NeedsReconnect() bool {
	return c.createdByPID != os.Getpid()
}

// Close flushes, closes the transport, and emits Disconnected{reason}.
func (c *Connection) Close(reason event.DisconnectReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked(reason)
}

func (c *Connection) closeLocked(reason event.DisconnectReason) error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.w.Flush(time.Now().Add(200 * time.Millisecond))
		err = c.nc.Close()
		c.state = StateClosed
		publish(c.cfg.Dispatcher, event.Disconnected, map[string]any{"reason": string(reason)})
	})
	return err
}

func publish(d *event.Dispatcher, t event.Type, fields map[string]any) {
	if d == nil {
		return
	}
	d.Publish(event.New(t, fields))
}
