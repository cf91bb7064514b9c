// Package capture acquires frames from camera devices and keeps the
// newest one available for consumers.
//
// Two layers:
//
//   - Device: synchronous access to one camera ("grab next frame").
//     Implementations: OpenCV (V4L2 via gocv, default) and GStreamer
//     (v4l2src pipeline via go-gst).
//   - Source: the capture loop. Pulls frames from a Device at the
//     device's native rate and publishes each into a single latest-frame
//     slot. No queue — an unconsumed frame is silently replaced.
//
// Philosophy (same as the frame distribution layer this grew out of):
// drop frames, never queue. The consumer always sees the freshest frame
// the device could deliver, and the capture loop never blocks on a slow
// consumer.
package capture

import (
	"errors"
	"fmt"
)

// Backend selects the capture implementation behind a Device.
type Backend string

const (
	// BackendOpenCV opens the device through gocv (OpenCV VideoCapture).
	BackendOpenCV Backend = "opencv"
	// BackendGStreamer opens the device through a go-gst v4l2src pipeline.
	BackendGStreamer Backend = "gstreamer"
)

// ErrNoFrame is returned by Grab when the device produced no frame for
// this read. The caller keeps its previous frame (stale-frame policy).
var ErrNoFrame = errors.New("capture: no frame available")

// Device is synchronous access to a single camera.
//
// Implementations must guarantee:
//   - Grab() blocks until the device delivers the next frame, returns
//     ErrNoFrame on a transient empty read, or another error on failure
//   - Grab() is called from a single goroutine (the capture loop)
//   - Close() releases the device handle; no Grab may follow Close
type Device interface {
	// Grab reads the next frame from the device. The returned frame is
	// owned by the caller; Data is a fresh copy, not a view into driver
	// memory.
	Grab() (*Frame, error)

	// Close releases the device handle. Called exactly once, at pipeline
	// teardown.
	Close() error
}

// Open opens a capture device with the selected backend.
//
// Fail-fast: an unknown backend or a device that cannot be opened is an
// error here, before any session state exists.
func Open(backend Backend, cfg DeviceConfig) (Device, error) {
	switch backend {
	case BackendOpenCV, "":
		return OpenOpenCVDevice(cfg)
	case BackendGStreamer:
		return OpenGStreamerDevice(cfg)
	default:
		return nil, fmt.Errorf("capture: unknown backend %q", backend)
	}
}
