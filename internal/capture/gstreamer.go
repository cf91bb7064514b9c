package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GStreamerDevice is the alternative Device implementation for rigs where
// the OpenCV/V4L2 path cannot negotiate the requested mode. It runs a
// v4l2src pipeline and pulls frames synchronously from an appsink.
//
// Pipeline structure:
//
//	v4l2src → videoconvert → videoscale → capsfilter(BGR,WxH@fps) → appsink
type GStreamerDevice struct {
	cfg      DeviceConfig
	pipeline *gst.Pipeline
	sink     *app.Sink

	closeOnce sync.Once
	closeErr  error
}

// OpenGStreamerDevice builds and starts the capture pipeline for the
// camera at cfg.Index.
func OpenGStreamerDevice(cfg DeviceConfig) (*GStreamerDevice, error) {
	// Safe to call multiple times.
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", fmt.Sprintf("/dev/video%d", cfg.Index))

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf(
		"video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, int(cfg.NativeFPS),
	)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // No clock sync: deliver as fast as the sensor does
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)     // Drop old frames

	pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element)

	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("capture: failed to link pipeline elements: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("capture: failed to start pipeline for device %d: %w", cfg.Index, err)
	}

	slog.Info("capture: device opened",
		"backend", BackendGStreamer,
		"index", cfg.Index,
		"caps", capsStr,
	)

	return &GStreamerDevice{
		cfg:      cfg,
		pipeline: pipeline,
		sink:     appsink,
	}, nil
}

// Grab pulls the next sample from the appsink. Blocks until the pipeline
// delivers a frame; returns ErrNoFrame on an empty or unmappable sample
// (transient) and a hard error once the stream has ended.
func (d *GStreamerDevice) Grab() (*Frame, error) {
	if d.sink.IsEOS() {
		return nil, fmt.Errorf("capture: device %d stream ended", d.cfg.Index)
	}

	sample := d.sink.PullSample()
	if sample == nil {
		return nil, ErrNoFrame
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, ErrNoFrame
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, ErrNoFrame
	}

	// Copy out: GStreamer reuses the buffer after Unmap.
	buf := make([]byte, len(data))
	copy(buf, data)
	buffer.Unmap()

	return &Frame{
		Width:  d.cfg.Width,
		Height: d.cfg.Height,
		Data:   buf,
	}, nil
}

// Close stops the pipeline and releases its resources. Idempotent.
func (d *GStreamerDevice) Close() error {
	d.closeOnce.Do(func() {
		if err := d.pipeline.SetState(gst.StateNull); err != nil {
			d.closeErr = fmt.Errorf("capture: failed to stop pipeline: %w", err)
			return
		}
		slog.Debug("capture: device released", "index", d.cfg.Index)
	})
	return d.closeErr
}
