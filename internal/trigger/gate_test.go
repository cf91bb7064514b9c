package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeLine goes high after highAfter samples. samples counts reads.
type fakeLine struct {
	samples   atomic.Uint64
	highAfter uint64
	err       error
	closed    atomic.Bool
}

func (l *fakeLine) Sample() (bool, error) {
	n := l.samples.Add(1)
	if l.err != nil {
		return false, l.err
	}
	return n > l.highAfter, nil
}

func (l *fakeLine) Close() error {
	l.closed.Store(true)
	return nil
}

// TestGate_NoReturnBeforeEdge verifies the blocking property: no return
// occurs before at least one true sample.
func TestGate_NoReturnBeforeEdge(t *testing.T) {
	line := &fakeLine{highAfter: 10}
	gate := NewGate(time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- gate.WaitForEdge(context.Background(), line)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForEdge() failed: %v", err)
		}
		if got := line.samples.Load(); got <= 10 {
			t.Errorf("returned after %d samples, want > 10 (at least one true sample)", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForEdge() did not return after edge")
	}
}

// TestGate_ImmediateEdge verifies an already-high line returns without
// waiting a poll tick.
func TestGate_ImmediateEdge(t *testing.T) {
	line := &fakeLine{highAfter: 0}
	gate := NewGate(time.Second) // long tick: must not be waited on

	start := time.Now()
	if err := gate.WaitForEdge(context.Background(), line); err != nil {
		t.Fatalf("WaitForEdge() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("WaitForEdge() took %v for an already-high line", elapsed)
	}
}

// TestGate_BlocksWhileLow verifies the gate keeps blocking while the
// sampled value stays false.
func TestGate_BlocksWhileLow(t *testing.T) {
	line := &fakeLine{highAfter: ^uint64(0)} // never goes high
	gate := NewGate(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- gate.WaitForEdge(ctx, line)
	}()

	select {
	case err := <-done:
		t.Fatalf("WaitForEdge() returned (%v) while line was low", err)
	case <-time.After(100 * time.Millisecond):
		// Still blocked, as required.
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled wait returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForEdge() did not observe cancellation")
	}
}

// TestGate_LineFailureIsFatal verifies a failed sample aborts the wait.
func TestGate_LineFailureIsFatal(t *testing.T) {
	lineErr := errors.New("channel unavailable")
	line := &fakeLine{err: lineErr}
	gate := NewGate(time.Millisecond)

	err := gate.WaitForEdge(context.Background(), line)
	if !errors.Is(err, lineErr) {
		t.Errorf("WaitForEdge() = %v, want wrapped %v", err, lineErr)
	}
}
