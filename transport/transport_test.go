package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func TestTCPDialerConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
		}
		close(accepted)
	}()

	d := NewTCPDialer(time.Second, 0)
	conn, err := d.Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	<-accepted
}

func TestTCPDialerRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	d := NewTCPDialer(200*time.Millisecond, 0)
	_, err = d.Dial(context.Background(), addr)
	if err == nil {
		t.Fatal("expected dial error against closed listener")
	}
}

func TestUnixDialerConnects(t *testing.T) {
	dir := t.TempDir()
	sock := dir + "/redisx.sock"
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	d := NewUnixDialer(time.Second)
	conn, err := d.Dial(context.Background(), sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}

// fakeDialer is a stub Dialer used to test DNSDialer's address rotation
// without touching a real resolver.
type fakeDialer struct {
	fail map[string]bool
	tried []string
}

func (f *fakeDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	f.tried = append(f.tried, address)
	if f.fail[address] {
		return nil, io.ErrClosedPipe
	}
	client, server := net.Pipe()
	go server.Close()
	return client, nil
}

func TestDNSDialerAdvancesOnFailure(t *testing.T) {
	fd := &fakeDialer{fail: map[string]bool{"10.0.0.1:6379": true}}
	d := NewDNSDialer(fd, "cache.internal", "6379", RoundRobin)
	// seed the address list directly, bypassing real DNS resolution.
	d.addrs = []string{"10.0.0.1:6379", "10.0.0.2:6379"}

	conn, err := d.Dial(context.Background(), "cache.internal:6379")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if len(fd.tried) != 2 {
		t.Fatalf("expected 2 attempts, got %v", fd.tried)
	}
	if fd.tried[0] != "10.0.0.1:6379" || fd.tried[1] != "10.0.0.2:6379" {
		t.Fatalf("unexpected dial order: %v", fd.tried)
	}
}

func TestDNSDialerRoundRobin(t *testing.T) {
	fd := &fakeDialer{}
	d := NewDNSDialer(fd, "cache.internal", "6379", RoundRobin)
	d.addrs = []string{"10.0.0.1:6379", "10.0.0.2:6379"}

	for i := 0; i < 4; i++ {
		conn, err := d.Dial(context.Background(), "cache.internal:6379")
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conn.Close()
		d.mu.Lock()
		d.addrs = []string{"10.0.0.1:6379", "10.0.0.2:6379"}
		d.mu.Unlock()
	}
	if fd.tried[0] == fd.tried[1] {
		t.Fatalf("expected round robin to alternate, got %v", fd.tried)
	}
}

func TestDNSDialerRefreshForcesResolve(t *testing.T) {
	fd := &fakeDialer{}
	d := NewDNSDialer(fd, "cache.internal", "6379", RoundRobin)
	d.addrs = []string{"10.0.0.1:6379"}
	d.RefreshDNS()
	if d.addrs != nil {
		t.Fatalf("expected RefreshDNS to clear cached addresses")
	}
}
