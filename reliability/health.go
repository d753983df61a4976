package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/synnergy/redisx/event"
)

// Probe is a single health signal: a ping, an INFO-section predicate, a
// REST endpoint check, a replica-lag measurement, and so on.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// AggregationPolicy combines multiple Probe results into one signal
// (spec.md §4.6).
type AggregationPolicy int

const (
	All AggregationPolicy = iota
	Any
	Majority
)

func (p AggregationPolicy) aggregate(results []error) error {
	failed := 0
	var first error
	for _, err := range results {
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	n := len(results)
	switch p {
	case All:
		if failed > 0 {
			return fmt.Errorf("reliability: %d/%d probes failed, first: %w", failed, n, first)
		}
	case Any:
		if failed == n && n > 0 {
			return fmt.Errorf("reliability: all %d probes failed, first: %w", n, first)
		}
	case Majority:
		if failed*2 > n {
			return fmt.Errorf("reliability: %d/%d probes failed (majority), first: %w", failed, n, first)
		}
	}
	return nil
}

// HealthOrchestratorConfig configures a periodic health-check loop.
type HealthOrchestratorConfig struct {
	Probes     []Probe
	Policy     AggregationPolicy
	Interval   time.Duration
	Clock      clock.Clock
	Dispatcher *event.Dispatcher
}

// HealthOrchestrator runs Probes on Interval and publishes a consolidated
// Healthy/Unhealthy event.HealthCheck signal.
type HealthOrchestrator struct {
	cfg HealthOrchestratorConfig
	cl  clock.Clock
	g   *errgroup.Group
	cancel context.CancelFunc
}

func NewHealthOrchestrator(cfg HealthOrchestratorConfig) *HealthOrchestrator {
	cl := cfg.Clock
	if cl == nil {
		cl = clock.New()
	}
	return &HealthOrchestrator{cfg: cfg, cl: cl}
}

// Start launches the background loop, supervised by an errgroup.
func (h *HealthOrchestrator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	h.cancel = cancel
	h.g = g
	g.Go(func() error {
		ticker := h.cl.Ticker(h.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.runOnce(gctx)
			case <-gctx.Done():
				return nil
			}
		}
	})
}

// Stop cancels the background loop and waits for it to exit.
func (h *HealthOrchestrator) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.g.Wait()
}

// CheckNow runs every probe immediately and returns the aggregated
// result, independent of the background loop.
func (h *HealthOrchestrator) CheckNow(ctx context.Context) error {
	return h.runOnce(ctx)
}

func (h *HealthOrchestrator) runOnce(ctx context.Context) error {
	start := h.cl.Now()
	results := make([]error, len(h.cfg.Probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, probe := range h.cfg.Probes {
		i, probe := i, probe
		g.Go(func() error {
			results[i] = probe.Check(gctx)
			return nil
		})
	}
	_ = g.Wait()

	err := h.cfg.Policy.aggregate(results)
	if h.cfg.Dispatcher != nil {
		h.cfg.Dispatcher.Publish(event.New(event.HealthCheck, map[string]any{
			"ok":      err == nil,
			"latency": h.cl.Now().Sub(start),
		}))
	}
	return err
}
