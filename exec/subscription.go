package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/iobuf"
	"github.com/synnergy/redisx/resp"
)

// pollInterval bounds each ReadPush wait so a concurrent Close can still
// acquire the connection between polls instead of fighting an unbounded
// blocking read.
const pollInterval = 200 * time.Millisecond

// Kind selects the subscription entry command, per spec.md §4.4.
type Kind int

const (
	Channel Kind = iota
	Pattern
	Shard
)

func (k Kind) subscribeCommand() string {
	switch k {
	case Pattern:
		return "PSUBSCRIBE"
	case Shard:
		return "SSUBSCRIBE"
	default:
		return "SUBSCRIBE"
	}
}

func (k Kind) unsubscribeCommand() string {
	switch k {
	case Pattern:
		return "PUNSUBSCRIBE"
	case Shard:
		return "SUNSUBSCRIBE"
	default:
		return "UNSUBSCRIBE"
	}
}

// Message is a decoded push frame delivered to a subscription handler.
// Kind is the wire sub-kind string: "message", "pmessage", "smessage",
// "subscribe", "unsubscribe", "psubscribe", "punsubscribe", …
type Message struct {
	Kind    string
	Pattern string
	Channel string
	Payload []byte
}

func toMessage(v resp.Value) Message {
	if len(v.Arr) == 0 {
		return Message{}
	}
	kind := string(v.Arr[0].Bytes)
	m := Message{Kind: kind}
	switch kind {
	case "pmessage":
		if len(v.Arr) >= 4 {
			m.Pattern = string(v.Arr[1].Bytes)
			m.Channel = string(v.Arr[2].Bytes)
			m.Payload = v.Arr[3].Bytes
		}
	case "message", "smessage":
		if len(v.Arr) >= 3 {
			m.Channel = string(v.Arr[1].Bytes)
			m.Payload = v.Arr[2].Bytes
		}
	default: // subscribe/unsubscribe acks: [kind, channel, count]
		if len(v.Arr) >= 2 {
			m.Channel = string(v.Arr[1].Bytes)
		}
	}
	return m
}

// Handler receives each decoded subscription Message.
type Handler func(Message)

// Subscription drives the receive loop for a connection placed into
// subscription mode. Exiting requires Close, which unsubscribes from
// every channel/pattern and releases the connection.
type Subscription struct {
	conn   *conn.Connection
	kind   Kind
	cancel context.CancelFunc
	g      *errgroup.Group
}

// Subscribe enters subscription mode on c for the given channels/patterns
// and starts a background goroutine (supervised by an errgroup, matching
// the teacher's per-topic subscription goroutine shape) delivering frames
// to handler until Close is called or the connection errors.
func Subscribe(ctx context.Context, c *conn.Connection, kind Kind, names []string, handler Handler) (*Subscription, error) {
	args := append([]string{kind.subscribeCommand()}, names...)
	if err := c.Subscribe(resp.NewCommand(args...)); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	sub := &Subscription{conn: c, kind: kind, cancel: cancel, g: g}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			v, err := c.ReadPush(time.Now().Add(pollInterval))
			if err == iobuf.ErrTimeout {
				continue
			}
			if err != nil {
				logrus.Warnf("exec: subscription read error: %v", err)
				return err
			}
			handler(toMessage(v))
		}
	})
	return sub, nil
}

// Close unsubscribes from every channel/pattern, stops the receive
// goroutine, and closes the underlying connection (a subscribed
// connection cannot be returned to general use once exited).
//
// The unsubscribe acknowledgement arrives as a push frame like any other
// subscription traffic, so it is sent with Send (fire-and-forget) rather
// than Call: the receive loop's own ReadPush picks up the "unsubscribe"
// ack and hands it to handler before the loop is cancelled.
func (s *Subscription) Close() error {
	sendErr := s.conn.Send(resp.NewCommand(s.kind.unsubscribeCommand()), time.Time{})
	time.Sleep(pollInterval) // give the receive loop a chance to observe the ack
	s.cancel()
	s.g.Wait()
	closeErr := s.conn.Close(event.ReasonNormal)
	if sendErr != nil {
		return fmt.Errorf("exec: unsubscribe: %w", sendErr)
	}
	return closeErr
}
