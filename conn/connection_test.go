package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/resp"
	"github.com/synnergy/redisx/transport"
)

// fakeDialer connects both ends of a net.Pipe and hands the client its end,
// running a scripted server on the other end via the serve callback.
type fakeDialer struct {
	serve func(net.Conn)
}

func (f *fakeDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

// serverReadCommand decodes one array-of-bulk-strings command off conn,
// using the same incremental decoder the real client uses.
func serverReadCommand(t *testing.T, d *resp.Decoder, buf *[]byte, conn net.Conn) resp.Value {
	t.Helper()
	for {
		v, n, err := d.Decode(*buf)
		if err == nil {
			*buf = (*buf)[n:]
			return v
		}
		if err != resp.ErrIncomplete {
			t.Fatalf("server decode: %v", err)
		}
		tmp := make([]byte, 4096)
		n, rerr := conn.Read(tmp)
		if rerr != nil {
			t.Fatalf("server read: %v", rerr)
		}
		*buf = append(*buf, tmp[:n]...)
	}
}

func TestConnectHandshakeAndPing(t *testing.T) {
	dialer := &fakeDialer{serve: func(conn net.Conn) {
		defer conn.Close()
		d := resp.NewDecoder(3)
		var buf []byte

		// HELLO 3
		cmd := serverReadCommand(t, d, &buf, conn)
		if len(cmd.Arr) == 0 || string(cmd.Arr[0].Bytes) != "HELLO" {
			t.Errorf("expected HELLO, got %+v", cmd)
		}
		conn.Write([]byte("%0\r\n"))

		// PING
		cmd = serverReadCommand(t, d, &buf, conn)
		if len(cmd.Arr) == 0 || string(cmd.Arr[0].Bytes) != "PING" {
			t.Errorf("expected PING, got %+v", cmd)
		}
		conn.Write([]byte("+PONG\r\n"))
	}}

	c, err := Connect(context.Background(), Config{
		Dialer:  dialer,
		Address: "fake:0",
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close(event.ReasonNormal)

	if c.State() != StateReady {
		t.Fatalf("expected Ready, got %v", c.State())
	}

	v, err := c.Call(resp.NewCommand("PING"), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v.Kind != resp.KindSimpleString || v.Str != "PONG" {
		t.Fatalf("unexpected reply: %+v", v)
	}
}

func TestHandshakeFallsBackToProtocol2(t *testing.T) {
	dialer := &fakeDialer{serve: func(conn net.Conn) {
		defer conn.Close()
		d := resp.NewDecoder(2)
		var buf []byte

		cmd := serverReadCommand(t, d, &buf, conn)
		if string(cmd.Arr[0].Bytes) != "HELLO" {
			t.Errorf("expected HELLO, got %+v", cmd)
		}
		conn.Write([]byte("-ERR unknown command 'HELLO'\r\n"))
	}}

	c, err := Connect(context.Background(), Config{
		Dialer:  dialer,
		Address: "fake:0",
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close(event.ReasonNormal)

	if c.ProtocolVersion() != 2 {
		t.Fatalf("expected fallback to protocol 2, got %d", c.ProtocolVersion())
	}
	if c.State() != StateReady {
		t.Fatalf("expected Ready after fallback, got %v", c.State())
	}
}

func TestCallPipelinePreservesOrder(t *testing.T) {
	dialer := &fakeDialer{serve: func(conn net.Conn) {
		defer conn.Close()
		d := resp.NewDecoder(3)
		var buf []byte

		serverReadCommand(t, d, &buf, conn) // HELLO
		conn.Write([]byte("%0\r\n"))

		for i := 0; i < 3; i++ {
			serverReadCommand(t, d, &buf, conn)
		}
		conn.Write([]byte(":1\r\n:2\r\n:3\r\n"))
	}}

	c, err := Connect(context.Background(), Config{Dialer: dialer, Address: "fake:0", Timeout: time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close(event.ReasonNormal)

	replies, err := c.CallPipeline([]resp.Command{
		resp.NewCommand("INCR", "a"),
		resp.NewCommand("INCR", "b"),
		resp.NewCommand("INCR", "c"),
	}, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	for i, want := range []int64{1, 2, 3} {
		if replies[i].Int != want {
			t.Fatalf("reply %d = %d want %d", i, replies[i].Int, want)
		}
	}
}

func TestDialerUnreachable(t *testing.T) {
	d := transport.NewTCPDialer(100*time.Millisecond, 0)
	_, err := Connect(context.Background(), Config{Dialer: d, Address: "127.0.0.1:1", Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected connect error against unreachable address")
	}
}
