package reliability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/resp"
)

// PingProbe checks liveness with a PING round-trip.
type PingProbe struct {
	Conn     *conn.Connection
	Deadline time.Duration
}

func (p *PingProbe) Name() string { return "ping" }

func (p *PingProbe) Check(ctx context.Context) error {
	deadline := time.Time{}
	if p.Deadline > 0 {
		deadline = time.Now().Add(p.Deadline)
	}
	v, err := p.Conn.Call(resp.NewCommand("PING"), deadline)
	if err != nil {
		return fmt.Errorf("ping probe: %w", err)
	}
	if v.Kind == resp.KindSimpleString && v.Str == "PONG" {
		return nil
	}
	return fmt.Errorf("ping probe: unexpected reply %+v", v)
}

// InfoPredicateProbe runs INFO [section] and checks the parsed
// key:value fields with Predicate.
type InfoPredicateProbe struct {
	Conn      *conn.Connection
	Section   string
	Deadline  time.Duration
	Predicate func(fields map[string]string) error
}

func (p *InfoPredicateProbe) Name() string { return "info:" + p.Section }

func (p *InfoPredicateProbe) Check(ctx context.Context) error {
	deadline := time.Time{}
	if p.Deadline > 0 {
		deadline = time.Now().Add(p.Deadline)
	}
	cmd := resp.NewCommand("INFO")
	if p.Section != "" {
		cmd = resp.NewCommand("INFO", p.Section)
	}
	v, err := p.Conn.Call(cmd, deadline)
	if err != nil {
		return fmt.Errorf("info probe: %w", err)
	}
	return p.Predicate(parseInfo(string(v.Bytes)))
}

func parseInfo(body string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(body, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if ok {
			fields[k] = v
		}
	}
	return fields
}

// RESTProbe checks an HTTP endpoint for a 2xx status.
type RESTProbe struct {
	URL    string
	Client *http.Client
}

func (p *RESTProbe) Name() string { return "rest:" + p.URL }

func (p *RESTProbe) Check(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("rest probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rest probe: status %d", resp.StatusCode)
	}
	return nil
}

// ReplicaLagProbe fails when a replica's reported offset lag (parsed
// from INFO replication's master_repl_offset vs a replica's own offset)
// exceeds MaxLag.
type ReplicaLagProbe struct {
	Conn        *conn.Connection
	MaxLag      time.Duration
	Deadline    time.Duration
	BytesPerSec int64 // used to convert an offset gap into elapsed time
}

func (p *ReplicaLagProbe) Name() string { return "replica_lag" }

func (p *ReplicaLagProbe) Check(ctx context.Context) error {
	deadline := time.Time{}
	if p.Deadline > 0 {
		deadline = time.Now().Add(p.Deadline)
	}
	v, err := p.Conn.Call(resp.NewCommand("INFO", "replication"), deadline)
	if err != nil {
		return fmt.Errorf("replica lag probe: %w", err)
	}
	fields := parseInfo(string(v.Bytes))
	masterOffset, mErr := strconv.ParseInt(fields["master_repl_offset"], 10, 64)
	replOffset, rErr := strconv.ParseInt(fields["slave_repl_offset"], 10, 64)
	if mErr != nil || rErr != nil {
		return fmt.Errorf("replica lag probe: missing offset fields")
	}
	gap := masterOffset - replOffset
	if gap <= 0 || p.BytesPerSec <= 0 {
		return nil
	}
	lag := time.Duration(gap) * time.Second / time.Duration(p.BytesPerSec)
	if lag > p.MaxLag {
		return fmt.Errorf("replica lag probe: lag %s exceeds max %s", lag, p.MaxLag)
	}
	return nil
}
