// Package trigger abstracts hardware digital lines as blocking
// boolean-edge waits.
//
// A Line samples one digital input; the Gate polls it until a true sample
// is observed. The physical driver (DAQ break-out, GPIO expander) lives
// behind the Line interface — this package only defines "sampled value is
// true/false".
//
// Each wait is single-use: the caller acquires a Line for the phase that
// needs it (start-wait or stop-wait), polls it to completion through the
// Gate, then releases it. Two phases never hold a line concurrently.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultPollInterval is the sampling cadence when none is configured.
// 5ms keeps edge-detection latency well under a frame interval without
// burning a core.
const DefaultPollInterval = 5 * time.Millisecond

// Line is one digital input.
type Line interface {
	// Sample reads the current logic level.
	Sample() (bool, error)

	// Close releases the line handle.
	Close() error
}

// Provider acquires lines by identifier (e.g. "port1/line0"). The session
// controller uses it to take a line for exactly one wait phase.
type Provider interface {
	OpenLine(id string) (Line, error)
}

// Gate waits for rising edges on digital lines.
type Gate struct {
	pollInterval time.Duration
}

// NewGate creates a gate sampling at the given cadence.
// interval <= 0 selects DefaultPollInterval.
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Gate{pollInterval: interval}
}

// WaitForEdge blocks until a true sample is observed on line.
//
// There is no timeout in the base design: an experiment trigger may
// arrive minutes later, so the wait is indefinite. Cancellation is via
// ctx only. A line read failure is fatal — the trigger path is not
// expected to fail under normal operation, and continuing without a
// working gate would desynchronize the rig.
func (g *Gate) WaitForEdge(ctx context.Context, line Line) error {
	slog.Debug("trigger: waiting for edge", "poll_interval", g.pollInterval)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		// Sample first so an already-high line returns without waiting a
		// full tick.
		high, err := line.Sample()
		if err != nil {
			return fmt.Errorf("trigger: line read failed: %w", err)
		}
		if high {
			slog.Debug("trigger: edge observed")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
