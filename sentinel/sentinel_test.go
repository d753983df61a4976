package sentinel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/resp"
)

type fakeTransportDialer struct {
	serve func(net.Conn)
}

func (f fakeTransportDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

func readCmd(t *testing.T, dec *resp.Decoder, buf *[]byte, c net.Conn) resp.Value {
	t.Helper()
	for {
		v, n, err := dec.Decode(*buf)
		if err == nil {
			*buf = (*buf)[n:]
			return v
		}
		if err != resp.ErrIncomplete {
			t.Fatalf("decode: %v", err)
		}
		tmp := make([]byte, 4096)
		n, rerr := c.Read(tmp)
		if rerr != nil {
			t.Fatalf("read: %v", rerr)
		}
		*buf = append(*buf, tmp[:n]...)
	}
}

// scriptedDial returns a Dialer that hands each connect call the next
// script function, letting a test drive a distinct fake server per
// endpoint-iteration round-trip (get-master-addr-by-name / masters /
// ROLE are each opened as separate connections in this implementation).
func scriptedDial(t *testing.T, scripts ...func(net.Conn)) Dialer {
	i := 0
	return func(ctx context.Context, addr string) (*conn.Connection, error) {
		if i >= len(scripts) {
			t.Fatalf("scriptedDial: ran out of scripts at call %d", i)
		}
		script := scripts[i]
		i++
		d := fakeTransportDialer{serve: func(server net.Conn) {
			dec := resp.NewDecoder(3)
			var buf []byte
			readCmd(t, dec, &buf, server) // HELLO
			server.Write([]byte("%0\r\n"))
			script(server)
		}}
		return conn.Connect(ctx, conn.Config{Dialer: d, Address: addr, Timeout: time.Second})
	}
}

func TestDiscoverHappyPath(t *testing.T) {
	dial := scriptedDial(t,
		func(server net.Conn) { // get-master-addr-by-name
			defer server.Close()
			dec := resp.NewDecoder(3)
			var buf []byte
			readCmd(t, dec, &buf, server)
			server.Write([]byte("*2\r\n$9\r\n127.0.0.1\r\n$4\r\n6379\r\n"))
		},
		func(server net.Conn) { // masters
			defer server.Close()
			dec := resp.NewDecoder(3)
			var buf []byte
			readCmd(t, dec, &buf, server)
			server.Write([]byte("*1\r\n*4\r\n$4\r\nname\r\n$4\r\nmain\r\n$5\r\nflags\r\n$6\r\nmaster\r\n"))
		},
		func(server net.Conn) { // ROLE on the data connection
			defer server.Close()
			dec := resp.NewDecoder(3)
			var buf []byte
			readCmd(t, dec, &buf, server)
			server.Write([]byte("*1\r\n$6\r\nmaster\r\n"))
		},
	)

	d := New(Config{Endpoints: []string{"s1:26379"}, ServiceName: "main", Dial: dial, Timeout: time.Second})
	c, addr, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if addr != "127.0.0.1:6379" {
		t.Fatalf("unexpected master addr: %q", addr)
	}
	c.Close(event.ReasonNormal)
}

func TestDiscoverSkipsDownMaster(t *testing.T) {
	dial := scriptedDial(t,
		func(server net.Conn) {
			defer server.Close()
			dec := resp.NewDecoder(3)
			var buf []byte
			readCmd(t, dec, &buf, server)
			server.Write([]byte("*2\r\n$9\r\n127.0.0.1\r\n$4\r\n6379\r\n"))
		},
		func(server net.Conn) { // masters: flagged s_down
			defer server.Close()
			dec := resp.NewDecoder(3)
			var buf []byte
			readCmd(t, dec, &buf, server)
			server.Write([]byte("*1\r\n*4\r\n$4\r\nname\r\n$4\r\nmain\r\n$5\r\nflags\r\n$6\r\ns_down\r\n"))
		},
	)

	d := New(Config{Endpoints: []string{"s1:26379"}, ServiceName: "main", Dial: dial, Timeout: time.Second})
	if _, _, err := d.Discover(context.Background()); err == nil {
		t.Fatal("expected discovery to fail when master is flagged down")
	}
}

func TestCheckReadOnlyWrapsReadOnlyError(t *testing.T) {
	err := &resp.Error{Prefix: "READONLY", Message: "replica is read only"}
	wrapped := CheckReadOnly(err)
	if _, ok := wrapped.(*ReadOnlyRedirectError); !ok {
		t.Fatalf("expected *ReadOnlyRedirectError, got %T", wrapped)
	}
}

func TestCheckReadOnlyPassesThroughOtherErrors(t *testing.T) {
	err := &resp.Error{Prefix: "WRONGTYPE", Message: "x"}
	if CheckReadOnly(err) != error(err) {
		t.Fatal("expected non-READONLY error to pass through unchanged")
	}
}
