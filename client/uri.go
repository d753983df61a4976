package client

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/transport"
)

// ParsedURI is the result of parsing a connection URI per spec.md §6:
// scheme://[user[:password]@]host[:port][/database].
type ParsedURI struct {
	Scheme        string // "tcp", "tls", or "unix"
	Address       string // host:port, or a unix socket path
	Username      string
	Password      string
	DatabaseIndex int

	ClientName string
	TimeoutMs  int
	Protocol   int // 2 or 3; 0 means unspecified
}

// ParseURI parses a redis connection URI. Unknown query parameters are
// ignored, per spec.md §6.
func ParseURI(raw string) (*ParsedURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parse uri: %w", err)
	}

	out := &ParsedURI{Scheme: u.Scheme}
	switch u.Scheme {
	case "tcp", "tls":
		out.Address = u.Host
	case "unix":
		out.Address = u.Path
	case "":
		return nil, fmt.Errorf("client: parse uri: missing scheme")
	default:
		return nil, fmt.Errorf("client: parse uri: unsupported scheme %q", u.Scheme)
	}

	if u.User != nil {
		out.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			out.Password = pw
		}
	}

	if u.Scheme != "unix" && len(u.Path) > 1 {
		db, err := strconv.Atoi(u.Path[1:])
		if err != nil {
			return nil, fmt.Errorf("client: parse uri: invalid database index %q: %w", u.Path[1:], err)
		}
		out.DatabaseIndex = db
	}

	q := u.Query()
	if v := q.Get("database"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("client: parse uri: invalid database query param %q: %w", v, err)
		}
		out.DatabaseIndex = db
	}
	if v := q.Get("client_name"); v != "" {
		out.ClientName = v
	}
	if v := q.Get("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("client: parse uri: invalid timeout_ms %q: %w", v, err)
		}
		out.TimeoutMs = ms
	}
	if v := q.Get("protocol"); v != "" {
		switch v {
		case "2":
			out.Protocol = 2
		case "3":
			out.Protocol = 3
		default:
			return nil, fmt.Errorf("client: parse uri: invalid protocol %q", v)
		}
	}

	return out, nil
}

// ConnConfig translates the parsed URI into a conn.Config, ready for
// conn.Connect (the caller still supplies the Dialer and Dispatcher).
func (p *ParsedURI) ConnConfig() conn.Config {
	cfg := conn.Config{
		Address:         p.Address,
		Username:        p.Username,
		Password:        p.Password,
		DatabaseIndex:   p.DatabaseIndex,
		ClientName:      p.ClientName,
		ProtocolVersion: p.Protocol,
	}
	if p.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	switch p.Scheme {
	case "tls":
		cfg.Dialer = transport.NewTLSDialer(cfg.Timeout, 0, nil)
	case "unix":
		cfg.Dialer = transport.NewUnixDialer(cfg.Timeout)
	default:
		cfg.Dialer = transport.NewTCPDialer(cfg.Timeout, 0)
	}
	return cfg
}
