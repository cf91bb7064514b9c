// Package sink persists frames to video container files.
//
// The encoder/container machinery is treated as opaque: a Sink accepts
// frames at a declared target rate and must be closed exactly once, at
// which point any buffered writes are flushed.
package sink

import "github.com/chiba-lab/3DTracker/internal/capture"

// Config describes one output file.
type Config struct {
	// Path is the destination file (e.g. output1.avi).
	Path string

	// Codec is the four-character codec identifier (IYUV, XVID, MJPG).
	Codec string

	// FPS is the container's nominal frame rate. Playback duration equals
	// frames written / FPS, which is exactly what the synchronized writer
	// relies on.
	FPS float64

	// Width and Height are the frame dimensions. Every written frame must
	// match them.
	Width  int
	Height int
}

// Sink receives frames for persistence.
//
// Implementations must guarantee:
//   - Write is called from a single goroutine (the writer loop)
//   - Close flushes buffered frames and releases the file; it is called
//     exactly once at pipeline teardown and acts as the flush
//     acknowledgment the shutdown sequence waits on
type Sink interface {
	// Write appends one frame to the container.
	Write(frame *capture.Frame) error

	// Close flushes and releases the sink. Write must not be called
	// afterwards.
	Close() error
}
