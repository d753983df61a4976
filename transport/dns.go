package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// BalancePolicy selects how DNSDialer iterates a resolved address set.
type BalancePolicy int

const (
	RoundRobin BalancePolicy = iota
	Random
)

// DNSDialer resolves host to its A/AAAA record set and dials one of the
// resulting addresses, advancing to the next on failure, per spec.md §4.8
// "DNS load balancing". Re-resolution happens on exhaustion of the current
// address set or when RefreshDNS is called explicitly.
type DNSDialer struct {
	Inner  Dialer
	Policy BalancePolicy
	Port   string

	resolverAddr string // "" uses the system resolver via net.DefaultResolver
	client       *dns.Client

	mu        sync.Mutex
	addrs     []string
	cursor    int
	resolved  time.Time
	host      string
	rng       *rand.Rand
}

// NewDNSDialer builds a dialer that load-balances across host's resolved
// addresses before delegating the actual connection to inner.
func NewDNSDialer(inner Dialer, host, port string, policy BalancePolicy) *DNSDialer {
	return &DNSDialer{
		Inner:  inner,
		Policy: policy,
		Port:   port,
		host:   host,
		client: &dns.Client{Timeout: 2 * time.Second},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RefreshDNS forces re-resolution on the next Dial.
func (d *DNSDialer) RefreshDNS() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = nil
}

func (d *DNSDialer) resolve(ctx context.Context) ([]string, error) {
	// Prefer the system resolver (works offline/in tests without a real
	// nameserver); fall back to a manual miekg/dns query only if a
	// resolver address was explicitly configured.
	if d.resolverAddr == "" {
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, d.host)
		if err != nil {
			return nil, fmt.Errorf("transport: resolve %s: %w", d.host, err)
		}
		out := make([]string, 0, len(ips))
		for _, ip := range ips {
			out = append(out, net.JoinHostPort(ip.String(), d.Port))
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("transport: no addresses for %s", d.host)
		}
		return out, nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(d.host), dns.TypeA)
	resp, _, err := d.client.ExchangeContext(ctx, m, d.resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: dns query %s: %w", d.host, err)
	}
	out := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, net.JoinHostPort(a.A.String(), d.Port))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("transport: no A records for %s", d.host)
	}
	return out, nil
}

// UseResolver points DNSDialer at an explicit nameserver (host:port) using
// the miekg/dns client instead of the system resolver.
func (d *DNSDialer) UseResolver(addr string) {
	d.mu.Lock()
	d.resolverAddr = addr
	d.mu.Unlock()
}

func (d *DNSDialer) next(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.addrs) == 0 {
		addrs, err := d.resolve(ctx)
		if err != nil {
			return "", err
		}
		d.addrs = addrs
		d.resolved = time.Now()
		d.cursor = 0
	}
	var addr string
	switch d.Policy {
	case Random:
		addr = d.addrs[d.rng.Intn(len(d.addrs))]
	default:
		addr = d.addrs[d.cursor%len(d.addrs)]
		d.cursor++
	}
	return addr, nil
}

// exhaust drops the chosen address from rotation so the next Dial call
// re-resolves if nothing is left, matching "Re-resolve on exhaustion".
func (d *DNSDialer) exhaust(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, a := range d.addrs {
		if a == addr {
			d.addrs = append(d.addrs[:i], d.addrs[i+1:]...)
			break
		}
	}
}

// Dial resolves host if needed, advances through the address list on
// failure, and delegates the actual connection to Inner.
func (d *DNSDialer) Dial(ctx context.Context, hostPort string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		host, port = hostPort, d.Port
	}
	if host != d.host {
		d.host = host
	}
	if port != "" {
		d.Port = port
	}

	var lastErr error
	attempts := 0
	for {
		addr, err := d.next(ctx)
		if err != nil {
			return nil, err
		}
		conn, err := d.Inner.Dial(ctx, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		d.exhaust(addr)
		attempts++
		d.mu.Lock()
		remaining := len(d.addrs)
		d.mu.Unlock()
		if remaining == 0 || attempts >= 8 {
			return nil, fmt.Errorf("transport: exhausted dns addresses for %s: %w", d.host, lastErr)
		}
	}
}
