// Package sentinel implements master discovery through a list of
// Sentinel endpoints, per spec.md §4.8 "Sentinel master discovery."
package sentinel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/resp"
)

// Dialer opens a connection to one endpoint, given a deadline.
type Dialer func(ctx context.Context, addr string) (*conn.Connection, error)

// Config configures a Discoverer.
type Config struct {
	Endpoints        []string
	ServiceName      string
	Dial             Dialer
	Timeout          time.Duration
	MinPeerSentinels int // optional threshold; 0 disables the check
}

// NotFoundError reports that no sentinel could name a live master.
type NotFoundError struct {
	Service string
	Tried   []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sentinel: no master found for %q after trying %v", e.Service, e.Tried)
}

// Discoverer runs the endpoint-iteration/validate/confirm sequence.
type Discoverer struct {
	cfg Config
}

func New(cfg Config) *Discoverer { return &Discoverer{cfg: cfg} }

// Discover walks cfg.Endpoints in order, querying
// SENTINEL get-master-addr-by-name, validating the address with
// SENTINEL masters (rejecting a master flagged down), and opening the
// data connection confirmed via ROLE. It returns the first usable
// master connection.
func (d *Discoverer) Discover(ctx context.Context) (*conn.Connection, string, error) {
	var tried []string
	for _, ep := range d.cfg.Endpoints {
		tried = append(tried, ep)
		addr, err := d.queryMasterAddr(ctx, ep)
		if err != nil {
			logrus.Warnf("sentinel: %s: get-master-addr-by-name failed: %v", ep, err)
			continue
		}
		if err := d.validateMaster(ctx, ep); err != nil {
			logrus.Warnf("sentinel: %s: master validation failed: %v", ep, err)
			continue
		}
		dataConn, err := d.cfg.Dial(ctx, addr)
		if err != nil {
			logrus.Warnf("sentinel: dial master %s failed: %v", addr, err)
			continue
		}
		if err := confirmMaster(dataConn, d.deadline()); err != nil {
			logrus.Warnf("sentinel: %s: ROLE confirmation failed: %v", addr, err)
			dataConn.Close(event.ReasonError)
			continue
		}
		return dataConn, addr, nil
	}
	return nil, "", &NotFoundError{Service: d.cfg.ServiceName, Tried: tried}
}

func (d *Discoverer) deadline() time.Time {
	if d.cfg.Timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d.cfg.Timeout)
}

func (d *Discoverer) queryMasterAddr(ctx context.Context, sentinelAddr string) (string, error) {
	c, err := d.cfg.Dial(ctx, sentinelAddr)
	if err != nil {
		return "", err
	}
	defer c.Close(event.ReasonNormal)

	v, err := c.Call(resp.NewCommand("SENTINEL", "get-master-addr-by-name", d.cfg.ServiceName), d.deadline())
	if err != nil {
		return "", err
	}
	if v.Kind != resp.KindArray || len(v.Arr) < 2 {
		return "", fmt.Errorf("sentinel: unexpected get-master-addr-by-name reply")
	}
	host := string(v.Arr[0].Bytes)
	port := string(v.Arr[1].Bytes)
	return host + ":" + port, nil
}

func (d *Discoverer) validateMaster(ctx context.Context, sentinelAddr string) error {
	c, err := d.cfg.Dial(ctx, sentinelAddr)
	if err != nil {
		return err
	}
	defer c.Close(event.ReasonNormal)

	v, err := c.Call(resp.NewCommand("SENTINEL", "masters"), d.deadline())
	if err != nil {
		return err
	}
	if v.Kind != resp.KindArray {
		return fmt.Errorf("sentinel: unexpected masters reply")
	}
	for _, master := range v.Arr {
		fields := masterFields(master)
		if fields["name"] != d.cfg.ServiceName {
			continue
		}
		if flagsContain(fields["flags"], "s_down") || flagsContain(fields["flags"], "o_down") {
			return fmt.Errorf("sentinel: master %q flagged down (%s)", d.cfg.ServiceName, fields["flags"])
		}
		if d.cfg.MinPeerSentinels > 0 {
			n, _ := strconv.Atoi(fields["num-other-sentinels"])
			if n < d.cfg.MinPeerSentinels {
				return fmt.Errorf("sentinel: only %d peer sentinels agree, need %d", n, d.cfg.MinPeerSentinels)
			}
		}
		return nil
	}
	return fmt.Errorf("sentinel: service %q not found in masters list", d.cfg.ServiceName)
}

func masterFields(v resp.Value) map[string]string {
	fields := make(map[string]string)
	if v.Kind != resp.KindArray {
		return fields
	}
	for i := 0; i+1 < len(v.Arr); i += 2 {
		fields[string(v.Arr[i].Bytes)] = string(v.Arr[i+1].Bytes)
	}
	return fields
}

func flagsContain(flags, needle string) bool {
	for _, f := range strings.Split(flags, ",") {
		if f == needle {
			return true
		}
	}
	return false
}

// confirmMaster issues ROLE and rejects a reply that isn't "master".
func confirmMaster(c *conn.Connection, deadline time.Time) error {
	v, err := c.Call(resp.NewCommand("ROLE"), deadline)
	if err != nil {
		return err
	}
	if v.Kind != resp.KindArray || len(v.Arr) < 1 || string(v.Arr[0].Bytes) != "master" {
		return fmt.Errorf("sentinel: ROLE reply is not master")
	}
	return nil
}

// ReadOnlyRedirectError wraps the READONLY server error observed during a
// data operation, signaling the caller is talking to a demoted replica
// and must discard the connection and re-run discovery.
type ReadOnlyRedirectError struct{ Err error }

func (e *ReadOnlyRedirectError) Error() string { return fmt.Sprintf("sentinel: READONLY: %v", e.Err) }
func (e *ReadOnlyRedirectError) Unwrap() error  { return e.Err }

// CheckReadOnly wraps err in *ReadOnlyRedirectError if it is a READONLY
// server error, otherwise returns err unchanged.
func CheckReadOnly(err error) error {
	if serverErr, ok := err.(*resp.Error); ok && serverErr.Prefix == "READONLY" {
		return &ReadOnlyRedirectError{Err: err}
	}
	return err
}
