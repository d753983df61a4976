// Package discovery implements a small client for a centralized
// discovery/directory service, per SPEC_FULL.md's added Component 12:
// an HTTP alternative/supplement to Sentinel and DNS for resolving a
// logical service name to a current address set.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// Endpoint describes one resolved address returned by the directory.
type Endpoint struct {
	Address string `json:"address"`
	Role    string `json:"role"` // "master", "replica", or "" if unknown
}

// ResolveResponse is the directory service's JSON reply shape for a
// GET /v1/services/{name} lookup.
type ResolveResponse struct {
	Service   string     `json:"service"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Client queries a discovery service over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New constructs a Client. If httpClient is nil, http.DefaultClient is
// used with no additional timeout beyond the caller's context.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, HTTPClient: httpClient}
}

// ResolveError reports a non-2xx response from the discovery service.
type ResolveError struct {
	Service    string
	StatusCode int
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("discovery: resolve %q: unexpected status %d", e.Service, e.StatusCode)
}

// Resolve queries the directory for the current endpoint set backing a
// logical service name.
func (c *Client) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid base url: %w", err)
	}
	u.Path = joinPath(u.Path, "v1", "services", service)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: build request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResolveError{Service: service, StatusCode: resp.StatusCode}
	}

	var body ResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("discovery: decode response: %w", err)
	}
	logrus.Debugf("discovery: resolved %q to %d endpoint(s)", service, len(body.Endpoints))
	return body.Endpoints, nil
}

// PreferredMaster returns the first endpoint whose Role is "master", or
// the first endpoint overall if none is explicitly tagged master, or
// ("", false) if the set is empty.
func PreferredMaster(endpoints []Endpoint) (string, bool) {
	if len(endpoints) == 0 {
		return "", false
	}
	for _, e := range endpoints {
		if e.Role == "master" {
			return e.Address, true
		}
	}
	return endpoints[0].Address, true
}

func joinPath(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out == "" || out[len(out)-1] != '/' {
			out += "/"
		}
		out += trimSlash(p)
	}
	return out
}

func trimSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// DefaultTimeout is the recommended client timeout when the caller
// builds its own *http.Client rather than passing nil to New.
const DefaultTimeout = 5 * time.Second
