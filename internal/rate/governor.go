// Package rate measures realized output cadence for post-session
// fidelity checking.
//
// A Governor brackets a recording interval (Start/Stop) and counts the
// frames emitted inside it. After Stop, Rate() is compared against the
// configured target to detect streams that under-delivered — an
// operator-facing signal that the file's real duration is shorter than
// nominal, not a corrective action.
package rate

import (
	"sync"
	"time"
)

// Governor tracks frames emitted between a start and an end instant.
//
// Thread-safety: all methods safe for concurrent use. Update() is called
// from the writer goroutine while Elapsed()/Rate() may be read from the
// controller.
type Governor struct {
	mu     sync.Mutex
	start  time.Time
	end    time.Time
	frames uint64
}

// NewGovernor creates an idle Governor. Start() must be called before
// Update() for Rate() to be meaningful.
func NewGovernor() *Governor {
	return &Governor{}
}

// Start records the reference instant. Calling Start again resets the
// interval and the frame count.
func (g *Governor) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.start = time.Now()
	g.end = time.Time{}
	g.frames = 0
}

// Stop records the end instant. Idempotent: only the first call after
// Start sets the end; later calls keep the original interval.
func (g *Governor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.end.IsZero() {
		g.end = time.Now()
	}
}

// Update increments the emitted-frame count.
func (g *Governor) Update() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frames++
}

// Frames returns the number of frames counted so far.
func (g *Governor) Frames() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frames
}

// StartedAt returns the reference instant recorded by Start.
// Zero if Start has not been called.
func (g *Governor) StartedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.start
}

// Elapsed returns the duration between the start and end instants.
// If Stop has not been called yet, the interval is open and measured
// against the current time. Returns 0 before Start.
func (g *Governor) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elapsedLocked()
}

func (g *Governor) elapsedLocked() time.Duration {
	if g.start.IsZero() {
		return 0
	}
	if g.end.IsZero() {
		return time.Since(g.start)
	}
	return g.end.Sub(g.start)
}

// Rate returns frames per second over the measured interval.
// Returns 0 when the elapsed time is 0 (guards division by zero).
func (g *Governor) Rate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	elapsed := g.elapsedLocked().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(g.frames) / elapsed
}
