package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxConsecutiveFaults is the escalation threshold for sustained
// grab failures. At a 30 Hz sensor this is roughly five seconds of
// continuous failure before the pipeline is declared faulted.
const DefaultMaxConsecutiveFaults = 150

// faultBackoff is slept after a failed grab so a wedged device does not
// turn the capture loop into a hot spin.
const faultBackoff = 10 * time.Millisecond

// Source runs the capture loop for one camera: it pulls frames from the
// Device at the device's native rate and publishes each into a single
// latest-frame slot.
//
// Hand-off semantics: the slot is an atomic pointer swap. Last write wins,
// the producer never blocks, older unconsumed frames are silently
// replaced. The reader may observe a frame one publish behind, never a
// torn one.
//
// Failure semantics: a failed grab keeps the previous frame in the slot
// (stale-frame policy) and increments a consecutive-fault counter. Once
// the counter reaches MaxConsecutiveFaults the loop stops and the fault is
// surfaced on Err() — sustained failure is a pipeline fault, not something
// to retry silently forever.
type Source struct {
	dev       Device
	maxFaults uint64

	slot atomic.Pointer[Frame]
	seq  atomic.Uint64

	// faults is the current consecutive-failure streak; totalFaults the
	// lifetime count (operational stat, reported at stop).
	faults      atomic.Uint64
	totalFaults atomic.Uint64

	errCh chan error

	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
}

// NewSource wraps an opened device. maxFaults <= 0 selects
// DefaultMaxConsecutiveFaults.
func NewSource(dev Device, maxFaults int) *Source {
	if maxFaults <= 0 {
		maxFaults = DefaultMaxConsecutiveFaults
	}
	return &Source{
		dev:       dev,
		maxFaults: uint64(maxFaults),
		errCh:     make(chan error, 1),
	}
}

// Prime performs a single blocking grab and publishes it, so a consumer
// started later finds the slot already populated. Failure is tolerated:
// the slot simply stays empty until the capture loop fills it.
func (s *Source) Prime() {
	frame, err := s.dev.Grab()
	if err != nil {
		slog.Debug("capture: warm-up grab failed, slot stays empty", "error", err)
		return
	}
	s.publish(frame)
}

// Start spawns the capture loop. Returns an error if already started.
func (s *Source) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return fmt.Errorf("capture: source already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.captureLoop(ctx)

	return nil
}

// Stop cancels the capture loop and waits for it to observe the
// cancellation. An outstanding Grab is allowed to complete first
// (cooperative cancellation, bounded by one device read).
func (s *Source) Stop() {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if !s.started {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.started = false
}

// Latest returns the most recently published frame, or nil if the device
// has not produced one yet. The returned frame is shared: callers must
// not modify Data.
func (s *Source) Latest() *Frame {
	return s.slot.Load()
}

// Err surfaces a fatal capture fault. At most one error is ever sent;
// the channel is never closed.
func (s *Source) Err() <-chan error {
	return s.errCh
}

// TotalFaults returns the lifetime count of failed grabs.
func (s *Source) TotalFaults() uint64 {
	return s.totalFaults.Load()
}

func (s *Source) publish(frame *Frame) {
	frame.Seq = s.seq.Add(1)
	frame.Timestamp = time.Now()
	frame.TraceID = uuid.New().String()
	s.slot.Store(frame)
}

// captureLoop runs until cancelled or faulted. Each iteration grabs the
// next frame and overwrites the slot; there is no back-pressure toward
// the device.
func (s *Source) captureLoop(ctx context.Context) {
	defer s.wg.Done()

	for ctx.Err() == nil {
		frame, err := s.dev.Grab()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			s.totalFaults.Add(1)
			streak := s.faults.Add(1)

			if !errors.Is(err, ErrNoFrame) || streak >= s.maxFaults {
				fault := fmt.Errorf("capture: device read failed after %d consecutive faults: %w", streak, err)
				slog.Error("capture: fatal read failure",
					"consecutive_faults", streak,
					"total_faults", s.totalFaults.Load(),
					"error", err,
				)
				select {
				case s.errCh <- fault:
				default:
				}
				return
			}

			slog.Debug("capture: transient read failure, keeping previous frame",
				"consecutive_faults", streak,
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(faultBackoff):
			}
			continue
		}

		s.faults.Store(0)
		s.publish(frame)
	}
}
