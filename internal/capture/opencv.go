package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"
)

// OpenCVDevice is the default Device implementation, backed by an OpenCV
// VideoCapture handle (V4L2 on Linux).
type OpenCVDevice struct {
	cfg DeviceConfig
	cap *gocv.VideoCapture

	// mat is reused across Grab calls to avoid a per-frame allocation on
	// the driver side; the pixel bytes are copied out before reuse.
	mat gocv.Mat

	closeOnce sync.Once
	closeErr  error
}

// OpenOpenCVDevice opens the camera at cfg.Index and applies the requested
// geometry and native rate (best-effort; the driver may clamp them).
func OpenOpenCVDevice(cfg DeviceConfig) (*OpenCVDevice, error) {
	cap, err := gocv.VideoCaptureDevice(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("capture: failed to open device %d: %w", cfg.Index, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("capture: device %d is not available", cfg.Index)
	}

	// Best-effort; drivers are free to pick the nearest supported mode.
	cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	cap.Set(gocv.VideoCaptureFPS, cfg.NativeFPS)

	slog.Info("capture: device opened",
		"backend", BackendOpenCV,
		"index", cfg.Index,
		"requested_resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"requested_native_fps", cfg.NativeFPS,
		"actual_width", cap.Get(gocv.VideoCaptureFrameWidth),
		"actual_height", cap.Get(gocv.VideoCaptureFrameHeight),
	)

	return &OpenCVDevice{
		cfg: cfg,
		cap: cap,
		mat: gocv.NewMat(),
	}, nil
}

// Grab reads the next frame. Returns ErrNoFrame when the driver delivers
// an empty read (transient; the caller keeps its previous frame).
func (d *OpenCVDevice) Grab() (*Frame, error) {
	if ok := d.cap.Read(&d.mat); !ok {
		return nil, ErrNoFrame
	}
	if d.mat.Empty() {
		return nil, ErrNoFrame
	}

	return &Frame{
		Width:  d.mat.Cols(),
		Height: d.mat.Rows(),
		// ToBytes copies, so the frame survives the next Read into d.mat.
		Data: d.mat.ToBytes(),
	}, nil
}

// Close releases the VideoCapture handle and the reusable Mat.
// Idempotent.
func (d *OpenCVDevice) Close() error {
	d.closeOnce.Do(func() {
		d.mat.Close()
		d.closeErr = d.cap.Close()
		slog.Debug("capture: device released", "index", d.cfg.Index)
	})
	return d.closeErr
}
