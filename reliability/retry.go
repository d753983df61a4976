// Package reliability implements the retry/backoff, circuit-breaker, and
// health-check-orchestrator middleware described in spec.md §4.6.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/iobuf"
	"github.com/synnergy/redisx/resp"
)

// RetryExhaustedError is returned once a Policy's MaxAttempts is used up
// without a successful attempt.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("reliability: retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}
func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// IsTransient classifies err per spec.md §4.6: connection errors, read
// timeouts, LOADING/BUSY server errors, and MOVED/ASK redirects are
// retryable; protocol errors, auth errors, and application-level server
// errors (wrong-type, syntax, ...) are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, iobuf.ErrTimeout) {
		return true
	}
	var connectErr *conn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var serverErr *resp.Error
	if errors.As(err, &serverErr) {
		switch serverErr.Prefix {
		case "LOADING", "BUSY", "MOVED", "ASK":
			return true
		}
	}
	return false
}

// Policy configures Do's retry loop.
type Policy struct {
	MaxAttempts int
	Strategy    Strategy
	Clock       clock.Clock      // nil uses the real clock
	IsTransient func(error) bool // nil uses IsTransient
}

func (p Policy) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.New()
}

func (p Policy) classify(err error) bool {
	if p.IsTransient != nil {
		return p.IsTransient(err)
	}
	return IsTransient(err)
}

// Do runs fn, retrying per p's Strategy whenever fn's error is
// classified transient, until MaxAttempts is reached or ctx is done. A
// MOVED/ASK redirect consumes an attempt just like any other transient
// failure — the caller is expected to have already updated its topology
// (e.g. via cluster.Table.Apply) inside fn before returning the error, so
// the retried fn observes the new routing.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	cl := p.clock()
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !p.classify(lastErr) {
			return lastErr
		}
		if attempt == max {
			break
		}
		delay := p.Strategy.Delay(attempt)
		if delay <= 0 {
			continue
		}
		timer := cl.Timer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return &RetryExhaustedError{Attempts: max, LastErr: lastErr}
}
