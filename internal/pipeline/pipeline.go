// Package pipeline pairs one camera's capture loop with its synchronized
// writer.
//
// The two loops share only the latest-frame slot: the capture loop keeps
// it as fresh as the device allows, and the writer samples it on a
// wall-clock schedule derived from the target output rate. Capture jitter
// therefore never leaks into output timing — the file's nominal duration
// always equals frames written / output rate.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chiba-lab/3DTracker/internal/capture"
	"github.com/chiba-lab/3DTracker/internal/rate"
	"github.com/chiba-lab/3DTracker/internal/sink"
)

// DefaultGracePeriod is the teardown delay before device and sink release,
// covering encoder background threads that outlive the last Write.
const DefaultGracePeriod = 5 * time.Second

// Config holds per-pipeline settings.
type Config struct {
	// Name identifies the pipeline in logs and reports (e.g. "camera1").
	Name string

	// OutputFPS is the target rate frames are persisted at. Typically
	// well below the sensor's native rate.
	OutputFPS float64

	// GracePeriod is the delay between stopping the loops and releasing
	// the device and sink. <= 0 selects DefaultGracePeriod.
	GracePeriod time.Duration

	// MaxConsecutiveFaults is the capture escalation threshold.
	// <= 0 selects the capture package default.
	MaxConsecutiveFaults int
}

// Pipeline owns one camera's device handle, sink, capture loop and writer
// loop. It is created armed (device open, sink open, loops idle),
// activated once, stopped once, and never reused.
type Pipeline struct {
	cfg           Config
	frameInterval time.Duration

	dev    capture.Device
	source *capture.Source
	snk    sink.Sink
	gov    *rate.Governor

	errCh  chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New wraps an opened device and sink. The slot is primed with a warm-up
// grab so the writer finds a frame as soon as the session goes active.
//
// Fail-fast: a non-positive output rate is a construction error.
func New(cfg Config, dev capture.Device, snk sink.Sink) (*Pipeline, error) {
	if cfg.OutputFPS <= 0 {
		return nil, fmt.Errorf("pipeline: invalid output FPS %.2f (must be > 0)", cfg.OutputFPS)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	source := capture.NewSource(dev, cfg.MaxConsecutiveFaults)
	source.Prime()

	return &Pipeline{
		cfg:           cfg,
		frameInterval: time.Duration(float64(time.Second) / cfg.OutputFPS),
		dev:           dev,
		source:        source,
		snk:           snk,
		gov:           rate.NewGovernor(),
		errCh:         make(chan error, 2),
	}, nil
}

// Name returns the pipeline's identifier.
func (p *Pipeline) Name() string { return p.cfg.Name }

// Start activates both loops. The recording interval begins now.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline %s: already started", p.cfg.Name)
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)

	p.gov.Start()

	if err := p.source.Start(ctx); err != nil {
		return fmt.Errorf("pipeline %s: %w", p.cfg.Name, err)
	}

	// Forward fatal capture faults onto the pipeline's error channel so
	// the controller watches a single channel per pipeline.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case err := <-p.source.Err():
			p.fault(err)
		case <-ctx.Done():
		}
	}()

	p.wg.Add(1)
	go p.writerLoop(ctx)

	slog.Info("pipeline: active",
		"pipeline", p.cfg.Name,
		"output_fps", p.cfg.OutputFPS,
		"frame_interval", p.frameInterval,
	)

	return nil
}

// Err surfaces fatal pipeline faults (sustained capture failure, sink
// write failure). At most one error is delivered.
func (p *Pipeline) Err() <-chan error {
	return p.errCh
}

func (p *Pipeline) fault(err error) {
	select {
	case p.errCh <- err:
	default:
	}
}

// writerLoop emits the latest frame whenever the elapsed wall time passes
// the next scheduled slot (frameInterval * framesEmitted). Between slots
// it sleeps rather than spinning; if emission falls behind (e.g. the
// first frame arrived late) it catches up by writing consecutive slots
// back-to-back, preserving the frames/rate duration identity.
func (p *Pipeline) writerLoop(ctx context.Context) {
	defer p.wg.Done()

	start := p.gov.StartedAt()

	// Cadence for re-checking an empty slot. The first frame not having
	// arrived yet must not turn into a busy wait.
	emptyPoll := p.frameInterval / 4
	if emptyPoll < time.Millisecond {
		emptyPoll = time.Millisecond
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		due := start.Add(time.Duration(p.gov.Frames()) * p.frameInterval)
		if wait := time.Until(due); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		frame := p.source.Latest()
		if frame == nil {
			// No first frame yet: never emit an uninitialized buffer.
			timer.Reset(emptyPoll)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			continue
		}

		if err := p.snk.Write(frame); err != nil {
			p.fault(fmt.Errorf("pipeline %s: %w", p.cfg.Name, err))
			return
		}
		p.gov.Update()
	}
}

// Stop deactivates the pipeline: cancels both loops, waits for them to
// observe cancellation, pays the grace period, then releases the device
// and the sink. Closing the sink flushes it; the grace period covers
// encoder threads that are not acknowledged by Close.
//
// Idempotent. Blocks for at least the grace period on the first call.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
	p.source.Stop()
	p.gov.Stop()

	slog.Info("pipeline: loops stopped, waiting out grace period",
		"pipeline", p.cfg.Name,
		"grace_period", p.cfg.GracePeriod,
	)
	time.Sleep(p.cfg.GracePeriod)

	var firstErr error
	if err := p.snk.Close(); err != nil {
		firstErr = fmt.Errorf("pipeline %s: sink close failed: %w", p.cfg.Name, err)
	}
	if err := p.dev.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("pipeline %s: device close failed: %w", p.cfg.Name, err)
	}

	slog.Info("pipeline: stopped",
		"pipeline", p.cfg.Name,
		"frames_emitted", p.gov.Frames(),
		"achieved_fps", fmt.Sprintf("%.2f", p.gov.Rate()),
		"capture_faults", p.source.TotalFaults(),
	)

	return firstErr
}

// Release closes the device and sink without running the loops. Used when
// session setup aborts after this pipeline was armed but before any
// pipeline started.
func (p *Pipeline) Release() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if err := p.snk.Close(); err != nil {
		slog.Warn("pipeline: sink close failed during release", "pipeline", p.cfg.Name, "error", err)
	}
	if err := p.dev.Close(); err != nil {
		slog.Warn("pipeline: device close failed during release", "pipeline", p.cfg.Name, "error", err)
	}
}

// StreamReport is the post-session fidelity summary for one pipeline.
type StreamReport struct {
	Name           string
	TargetFPS      float64
	AchievedFPS    float64
	FramesEmitted  uint64
	Elapsed        time.Duration
	CaptureFaults  uint64
	UnderDelivered bool
}

// Report computes the achieved-vs-target summary. Meaningful after Stop.
//
// UnderDelivered uses the operator rule round(achieved) < target: the
// recording's real duration is shorter than nominal. It is a warning,
// not an error.
func (p *Pipeline) Report() StreamReport {
	achieved := p.gov.Rate()
	return StreamReport{
		Name:           p.cfg.Name,
		TargetFPS:      p.cfg.OutputFPS,
		AchievedFPS:    achieved,
		FramesEmitted:  p.gov.Frames(),
		Elapsed:        p.gov.Elapsed(),
		CaptureFaults:  p.source.TotalFaults(),
		UnderDelivered: math.Round(achieved) < p.cfg.OutputFPS,
	}
}
