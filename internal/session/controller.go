// Package session owns the recording lifecycle across the camera fleet.
//
// A session moves Idle → Armed → Active → Stopping → Stopped. All
// pipelines are armed, activated and stopped as one logical step from the
// session's perspective: no pipeline emits a frame before the session is
// active or after it has stopped (beyond writes already in flight,
// bounded by the grace period). Across pipelines no frame-for-frame
// alignment is promised — only that every pipeline is instructed to
// start and stop within the same control step.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chiba-lab/3DTracker/internal/capture"
	"github.com/chiba-lab/3DTracker/internal/pipeline"
	"github.com/chiba-lab/3DTracker/internal/sink"
	"github.com/chiba-lab/3DTracker/internal/trigger"
)

// MaxStreams is the camera fleet limit.
const MaxStreams = 4

// State is the session lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateArmed    State = "armed"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateStopped  State = "stopped" // terminal
)

// StreamConfig describes one camera stream of the session.
type StreamConfig struct {
	// Name identifies the stream in logs and the report (e.g. "camera1").
	Name string
	// Camera is the capture device index.
	Camera int
	// OutputPath is the destination video file.
	OutputPath string
}

// Config holds session-wide settings.
type Config struct {
	// Streams is the ordered camera fleet, 1 to MaxStreams entries.
	Streams []StreamConfig

	// Duration is the fixed recording length. <= 0 selects trigger-gated
	// mode: the session starts on an edge on StartLine and stops on an
	// edge on StopLine.
	Duration time.Duration

	// StartLine and StopLine are the trigger line identifiers. Required
	// in trigger-gated mode.
	StartLine string
	StopLine  string

	// PollInterval is the trigger sampling cadence.
	// <= 0 selects the trigger package default.
	PollInterval time.Duration

	// OutputFPS is the target persisted rate, shared by all streams.
	OutputFPS float64

	// GracePeriod is each pipeline's teardown delay. Paid once in
	// parallel across the fleet, not once per stream.
	GracePeriod time.Duration

	// MaxConsecutiveFaults is the per-stream capture escalation
	// threshold. <= 0 selects the capture package default.
	MaxConsecutiveFaults int
}

// TriggerGated reports whether the session waits on hardware edges
// instead of a fixed duration.
func (c Config) TriggerGated() bool { return c.Duration <= 0 }

// StreamOpener opens the device and sink for one stream. Injected so the
// controller stays independent of the capture backend and container
// format; the CLI composes the real openers.
type StreamOpener func(s StreamConfig) (capture.Device, sink.Sink, error)

// EventSink receives session lifecycle events. Implementations must not
// block; a nil EventSink disables emission.
type EventSink interface {
	EmitSessionEvent(ev Event)
}

// Event is one session lifecycle notification.
type Event struct {
	SessionID string                  `json:"session_id"`
	State     State                   `json:"state"`
	Timestamp time.Time               `json:"timestamp"`
	Streams   []pipeline.StreamReport `json:"streams,omitempty"`
}

// Controller drives the session state machine.
type Controller struct {
	cfg    Config
	open   StreamOpener
	lines  trigger.Provider
	gate   *trigger.Gate
	events EventSink

	id        string
	pipelines []*pipeline.Pipeline

	mu        sync.Mutex
	state     State
	startTime time.Time
	stopTime  time.Time
}

// New validates the configuration and creates an idle controller.
// lines may be nil in fixed-duration mode; events may always be nil.
func New(cfg Config, open StreamOpener, lines trigger.Provider, events EventSink) (*Controller, error) {
	if len(cfg.Streams) == 0 {
		return nil, fmt.Errorf("session: at least one stream is required")
	}
	if len(cfg.Streams) > MaxStreams {
		return nil, fmt.Errorf("session: %d streams exceeds the maximum of %d", len(cfg.Streams), MaxStreams)
	}
	if cfg.OutputFPS <= 0 {
		return nil, fmt.Errorf("session: invalid output FPS %.2f (must be > 0)", cfg.OutputFPS)
	}
	if open == nil {
		return nil, fmt.Errorf("session: stream opener is required")
	}
	if cfg.TriggerGated() {
		if lines == nil {
			return nil, fmt.Errorf("session: trigger-gated mode requires a line provider")
		}
		if cfg.StartLine == "" || cfg.StopLine == "" {
			return nil, fmt.Errorf("session: trigger-gated mode requires start and stop line ids")
		}
	}

	return &Controller{
		cfg:    cfg,
		open:   open,
		lines:  lines,
		gate:   trigger.NewGate(cfg.PollInterval),
		events: events,
		id:     uuid.New().String(),
		state:  StateIdle,
	}, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	slog.Info("session: state changed", "session_id", c.id, "from", from, "to", to)
}

// Arm opens every stream's device and sink and constructs the pipelines.
// Nothing emits yet.
//
// All-or-nothing: if any stream fails to open, everything already opened
// is released and the session stays Idle. A partial fleet is never
// recorded — the other instruments on the trigger line would disagree
// with the video record about what was captured.
func (c *Controller) Arm(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: cannot arm from state %q", state)
	}
	c.mu.Unlock()

	pipelines := make([]*pipeline.Pipeline, 0, len(c.cfg.Streams))

	for _, s := range c.cfg.Streams {
		if err := ctx.Err(); err != nil {
			releaseAll(pipelines)
			return err
		}

		dev, snk, err := c.open(s)
		if err != nil {
			releaseAll(pipelines)
			return fmt.Errorf("session: failed to open stream %s: %w", s.Name, err)
		}

		p, err := pipeline.New(pipeline.Config{
			Name:                 s.Name,
			OutputFPS:            c.cfg.OutputFPS,
			GracePeriod:          c.cfg.GracePeriod,
			MaxConsecutiveFaults: c.cfg.MaxConsecutiveFaults,
		}, dev, snk)
		if err != nil {
			snk.Close()
			dev.Close()
			releaseAll(pipelines)
			return fmt.Errorf("session: failed to build pipeline %s: %w", s.Name, err)
		}

		pipelines = append(pipelines, p)
		slog.Info("session: stream armed", "session_id", c.id, "stream", s.Name, "camera", s.Camera, "output", s.OutputPath)
	}

	c.pipelines = pipelines
	c.transition(StateArmed)
	c.emit(nil)
	return nil
}

func releaseAll(pipelines []*pipeline.Pipeline) {
	for _, p := range pipelines {
		p.Release()
	}
}

// Run executes the armed session to completion and returns the
// post-session report.
//
// Trigger-gated mode waits indefinitely for the start edge, records until
// the stop edge, and holds the line handle only for the phase using it.
// Fixed-duration mode starts immediately and records for the configured
// duration. Context cancellation at any point stops the session
// gracefully.
//
// A fatal pipeline fault (sustained capture failure, sink failure) stops
// the whole session; the report is still returned alongside the error.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.state != StateArmed {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("session: cannot run from state %q", state)
	}
	c.mu.Unlock()

	// Phase 1: start gate.
	if c.cfg.TriggerGated() {
		slog.Info("session: waiting for start edge", "session_id", c.id, "line", c.cfg.StartLine)
		if err := c.waitEdge(ctx, c.cfg.StartLine); err != nil {
			c.stopAll()
			c.finish()
			return c.report(), fmt.Errorf("session: start wait failed: %w", err)
		}
	}

	// Phase 2: activate the fleet. One control step: every pipeline is
	// instructed to start here; no ordering promise between them.
	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	for _, p := range c.pipelines {
		if err := p.Start(ctx); err != nil {
			slog.Error("session: pipeline failed to start, aborting", "session_id", c.id, "pipeline", p.Name(), "error", err)
			c.stopAll()
			c.finish()
			return c.report(), err
		}
	}
	c.transition(StateActive)
	c.emit(nil)
	slog.Info("session: recording", "session_id", c.id, "streams", len(c.pipelines))

	// Phase 3: wait for the end condition.
	runErr := c.waitEndCondition(ctx)

	// Phase 4: stop the fleet. The grace period is paid once, in
	// parallel, not once per stream.
	c.transition(StateStopping)
	c.stopAll()

	c.finish()
	report := c.report()

	for _, s := range report.Streams {
		if s.UnderDelivered {
			slog.Warn("session: stream under-delivered, recording is shorter than nominal",
				"session_id", c.id,
				"stream", s.Name,
				"target_fps", s.TargetFPS,
				"achieved_fps", fmt.Sprintf("%.2f", s.AchievedFPS),
			)
		}
	}

	return report, runErr
}

// waitEdge acquires the line for this phase, waits for its edge, and
// releases it before returning. Two phases never hold a line at once.
func (c *Controller) waitEdge(ctx context.Context, lineID string) error {
	line, err := c.lines.OpenLine(lineID)
	if err != nil {
		return fmt.Errorf("failed to open trigger line %s: %w", lineID, err)
	}
	defer func() {
		if err := line.Close(); err != nil {
			slog.Warn("session: trigger line release failed", "line", lineID, "error", err)
		}
	}()

	return c.gate.WaitForEdge(ctx, line)
}

// waitEndCondition blocks until the stop condition is met: duration
// elapsed or stop edge observed, whichever mode applies; a fatal
// pipeline fault; or context cancellation (treated as an operator stop,
// not an error).
func (c *Controller) waitEndCondition(ctx context.Context) error {
	faults := make(chan error, len(c.pipelines))
	faultCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	for _, p := range c.pipelines {
		go func(p *pipeline.Pipeline) {
			select {
			case err := <-p.Err():
				faults <- fmt.Errorf("pipeline fault: %w", err)
			case <-faultCtx.Done():
			}
		}(p)
	}

	if c.cfg.TriggerGated() {
		// Scoped so a fault ending the session also ends the edge wait and
		// releases the stop line.
		edgeCtx, cancelEdge := context.WithCancel(ctx)
		defer cancelEdge()

		edge := make(chan error, 1)
		go func() {
			slog.Info("session: waiting for stop edge", "session_id", c.id, "line", c.cfg.StopLine)
			edge <- c.waitEdge(edgeCtx, c.cfg.StopLine)
		}()

		select {
		case err := <-edge:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("session: stop wait failed: %w", err)
			}
			return nil
		case err := <-faults:
			return err
		case <-ctx.Done():
			slog.Info("session: interrupted, stopping", "session_id", c.id)
			return nil
		}
	}

	slog.Info("session: recording for fixed duration", "session_id", c.id, "duration", c.cfg.Duration)
	timer := time.NewTimer(c.cfg.Duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case err := <-faults:
		return err
	case <-ctx.Done():
		slog.Info("session: interrupted, stopping", "session_id", c.id)
		return nil
	}
}

// stopAll issues one stop request per pipeline, executed concurrently so
// the mandatory grace period is paid once for the fleet.
func (c *Controller) stopAll() {
	var wg sync.WaitGroup
	for _, p := range c.pipelines {
		wg.Add(1)
		go func(p *pipeline.Pipeline) {
			defer wg.Done()
			if err := p.Stop(); err != nil {
				slog.Error("session: pipeline stop failed", "session_id", c.id, "pipeline", p.Name(), "error", err)
			}
		}(p)
	}
	wg.Wait()
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.stopTime = time.Now()
	c.mu.Unlock()
	c.transition(StateStopped)
	c.emit(c.streamReports())
}

func (c *Controller) streamReports() []pipeline.StreamReport {
	reports := make([]pipeline.StreamReport, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		reports = append(reports, p.Report())
	}
	return reports
}

func (c *Controller) emit(streams []pipeline.StreamReport) {
	if c.events == nil {
		return
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	c.events.EmitSessionEvent(Event{
		SessionID: c.id,
		State:     state,
		Timestamp: time.Now(),
		Streams:   streams,
	})
}
