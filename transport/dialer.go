// Package transport provides the dial layer: plain TCP, TLS and Unix-socket
// dialers, plus a DNS-balanced dialer that spreads connections across the
// address set a hostname resolves to.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Dialer opens one transport connection. It is the generalisation of the
// teacher's core.Dialer (which only ever dialed "tcp").
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer dials plain TCP, matching core.Dialer's Timeout/KeepAlive shape.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

func NewTCPDialer(timeout, keepAlive time.Duration) *TCPDialer {
	return &TCPDialer{Timeout: timeout, KeepAlive: keepAlive}
}

func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", address, err)
	}
	return conn, nil
}

// TLSDialer dials TCP then performs a TLS handshake. Certificate
// verification is on by default, matching spec.md §6's "tls (certificate
// verification on by default)".
type TLSDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	Config    *tls.Config
}

func NewTLSDialer(timeout, keepAlive time.Duration, cfg *tls.Config) *TLSDialer {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	return &TLSDialer{Timeout: timeout, KeepAlive: keepAlive, Config: cfg}
}

func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	tlsDialer := &tls.Dialer{NetDialer: nd, Config: d.Config}
	conn, err := tlsDialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tls %s: %w", address, err)
	}
	return conn, nil
}

// UnixDialer dials a local Unix domain socket; address is a filesystem path.
type UnixDialer struct {
	Timeout time.Duration
}

func NewUnixDialer(timeout time.Duration) *UnixDialer {
	return &UnixDialer{Timeout: timeout}
}

func (d *UnixDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "unix", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial unix %s: %w", address, err)
	}
	return conn, nil
}
