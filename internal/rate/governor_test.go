package rate

import (
	"testing"
	"time"
)

// TestGovernor_ZeroElapsed verifies the division-by-zero guard.
//
// Property: Rate() returns 0 when Elapsed() == 0.
func TestGovernor_ZeroElapsed(t *testing.T) {
	g := NewGovernor()

	if got := g.Rate(); got != 0 {
		t.Errorf("Rate() before Start = %v, want 0", got)
	}
	if got := g.Elapsed(); got != 0 {
		t.Errorf("Elapsed() before Start = %v, want 0", got)
	}

	// Frames counted without Start must not produce a rate
	g.Update()
	if got := g.Rate(); got != 0 {
		t.Errorf("Rate() with frames but no interval = %v, want 0", got)
	}
}

// TestGovernor_RateCalculation verifies Rate = frames / elapsed seconds.
func TestGovernor_RateCalculation(t *testing.T) {
	g := NewGovernor()
	g.Start()

	for i := 0; i < 10; i++ {
		g.Update()
	}

	time.Sleep(200 * time.Millisecond)
	g.Stop()

	if got := g.Frames(); got != 10 {
		t.Fatalf("Frames() = %d, want 10", got)
	}

	elapsed := g.Elapsed().Seconds()
	if elapsed <= 0 {
		t.Fatalf("Elapsed() = %v, want > 0", elapsed)
	}

	want := 10 / elapsed
	if got := g.Rate(); got != want {
		t.Errorf("Rate() = %v, want %v", got, want)
	}
}

// TestGovernor_StopIdempotent verifies a second Stop keeps the original
// interval.
func TestGovernor_StopIdempotent(t *testing.T) {
	g := NewGovernor()
	g.Start()
	time.Sleep(50 * time.Millisecond)
	g.Stop()

	first := g.Elapsed()
	time.Sleep(50 * time.Millisecond)
	g.Stop()

	if got := g.Elapsed(); got != first {
		t.Errorf("Elapsed() after second Stop = %v, want %v", got, first)
	}
}

// TestGovernor_StartResets verifies Start clears previous state.
func TestGovernor_StartResets(t *testing.T) {
	g := NewGovernor()
	g.Start()
	g.Update()
	g.Update()
	g.Stop()

	g.Start()
	if got := g.Frames(); got != 0 {
		t.Errorf("Frames() after restart = %d, want 0", got)
	}
}

// TestGovernor_OpenInterval verifies Elapsed grows before Stop.
func TestGovernor_OpenInterval(t *testing.T) {
	g := NewGovernor()
	g.Start()
	time.Sleep(20 * time.Millisecond)

	first := g.Elapsed()
	if first <= 0 {
		t.Fatalf("Elapsed() while running = %v, want > 0", first)
	}

	time.Sleep(20 * time.Millisecond)
	if second := g.Elapsed(); second <= first {
		t.Errorf("Elapsed() did not grow: first %v, second %v", first, second)
	}
}
