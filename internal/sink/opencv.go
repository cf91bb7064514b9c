package sink

import (
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/chiba-lab/3DTracker/internal/capture"
)

// VideoFileSink writes frames to a video container through an OpenCV
// VideoWriter.
type VideoFileSink struct {
	cfg    Config
	writer *gocv.VideoWriter

	written uint64

	closeOnce sync.Once
	closeErr  error
}

// NewVideoFileSink opens the destination file. Fail-fast: an unwritable
// path or unsupported codec is an error here, before the session arms.
func NewVideoFileSink(cfg Config) (*VideoFileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sink: output path is required")
	}
	if len(cfg.Codec) != 4 {
		return nil, fmt.Errorf("sink: codec must be a four-character identifier, got %q", cfg.Codec)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("sink: invalid FPS %.2f (must be > 0)", cfg.FPS)
	}

	writer, err := gocv.VideoWriterFile(cfg.Path, cfg.Codec, cfg.FPS, cfg.Width, cfg.Height, true)
	if err != nil {
		return nil, fmt.Errorf("sink: failed to open %s: %w", cfg.Path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("sink: writer for %s did not open (codec %s unsupported?)", cfg.Path, cfg.Codec)
	}

	slog.Info("sink: output opened",
		"path", cfg.Path,
		"codec", cfg.Codec,
		"fps", cfg.FPS,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
	)

	return &VideoFileSink{cfg: cfg, writer: writer}, nil
}

// Write appends one frame. The frame's pixel bytes are wrapped in a Mat
// view for the encoder; the underlying data is not modified.
func (s *VideoFileSink) Write(frame *capture.Frame) error {
	if frame.Width != s.cfg.Width || frame.Height != s.cfg.Height {
		return fmt.Errorf("sink: frame %dx%d does not match output %dx%d",
			frame.Width, frame.Height, s.cfg.Width, s.cfg.Height)
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return fmt.Errorf("sink: failed to wrap frame data: %w", err)
	}
	defer mat.Close()

	if err := s.writer.Write(mat); err != nil {
		return fmt.Errorf("sink: failed to write frame to %s: %w", s.cfg.Path, err)
	}
	s.written++
	return nil
}

// Close flushes and releases the container. Idempotent: the flush is
// performed exactly once.
func (s *VideoFileSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.writer.Close()
		slog.Info("sink: output closed",
			"path", s.cfg.Path,
			"frames_written", s.written,
		)
	})
	return s.closeErr
}
