package capture

import "time"

// Frame is a single captured image with metadata.
//
// IMMUTABILITY CONTRACT: Frame.Data is shared by reference between the
// capture loop and the writer (zero-copy hand-off through the latest-frame
// slot). Neither side may modify Data after the frame is published.
type Frame struct {
	// Seq is the per-source monotonic sequence number, assigned by the
	// capture loop at publish time.
	Seq uint64

	// Timestamp is when the frame was grabbed from the device.
	Timestamp time.Time

	// Width in pixels.
	Width int

	// Height in pixels.
	Height int

	// Data contains the raw pixel bytes (BGR, 8-bit, 3 channels).
	// MUST NOT be modified after publication (shared by reference).
	Data []byte

	// TraceID is a unique identifier for correlating a frame across logs.
	TraceID string
}

// DeviceConfig describes how a capture device should be opened.
//
// Width, Height and NativeFPS are requested best-effort; the underlying
// drivers are free to clamp them to the nearest supported mode.
type DeviceConfig struct {
	// Index is the numeric device index (e.g. /dev/video<Index>).
	Index int

	// Width is the requested capture width in pixels.
	Width int

	// Height is the requested capture height in pixels.
	Height int

	// NativeFPS is the requested device-side capture rate. This is the
	// sensor rate, independent of the session's output rate.
	NativeFPS float64
}
