package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/pool"
	"github.com/synnergy/redisx/resp"
)

type fakeDialer struct{}

func (fakeDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go serveFake(server)
	return client, nil
}

// serveFake answers HELLO with the empty-map handshake reply and every
// other command with a simple-string echo of the command name, so tests
// can assert on which command actually reached the server.
func serveFake(server net.Conn) {
	defer server.Close()
	dec := resp.NewDecoder(3)
	var buf []byte
	for {
		v, n, err := dec.Decode(buf)
		if err == resp.ErrIncomplete {
			tmp := make([]byte, 4096)
			rn, rerr := server.Read(tmp)
			if rerr != nil {
				return
			}
			buf = append(buf, tmp[:rn]...)
			continue
		}
		if err != nil {
			return
		}
		buf = buf[n:]
		if len(v.Arr) == 0 {
			continue
		}
		name := string(v.Arr[0].Bytes)
		if name == "HELLO" {
			if _, werr := server.Write([]byte("%0\r\n")); werr != nil {
				return
			}
			continue
		}
		reply := "+" + name + "\r\n"
		if _, werr := server.Write([]byte(reply)); werr != nil {
			return
		}
	}
}

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	return pool.New(pool.Config{
		Factory: func(ctx context.Context) (*conn.Connection, error) {
			return conn.Connect(ctx, conn.Config{Dialer: fakeDialer{}, Address: "fake:0", Timeout: time.Second})
		},
		MaxSize:         2,
		CheckoutTimeout: time.Second,
	})
}

func TestClientCallRoundTrips(t *testing.T) {
	p := newTestPool(t)
	defer p.Close(time.Second)

	c := New(Config{Pool: p, DefaultTimeout: time.Second})
	v, err := c.Call(context.Background(), resp.NewCommand("PING"), time.Time{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v.Str != "PING" {
		t.Fatalf("unexpected reply: %+v", v)
	}
}

func TestClientAddrForKeyWithoutClusterReturnsFalse(t *testing.T) {
	p := newTestPool(t)
	defer p.Close(time.Second)

	c := New(Config{Pool: p})
	if _, ok := c.AddrForKey("foo"); ok {
		t.Fatal("expected ok=false with no cluster table configured")
	}
}

func TestClientDiscoverMasterWithoutSentinelErrors(t *testing.T) {
	p := newTestPool(t)
	defer p.Close(time.Second)

	c := New(Config{Pool: p})
	if _, _, err := c.DiscoverMaster(context.Background()); err == nil {
		t.Fatal("expected error with no sentinel discoverer configured")
	}
}
