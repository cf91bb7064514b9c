package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Capture.Backend != "opencv" {
		t.Errorf("Backend = %q, want opencv", cfg.Capture.Backend)
	}
	if cfg.Capture.Width != 4096 || cfg.Capture.Height != 2160 {
		t.Errorf("resolution = %dx%d, want 4096x2160", cfg.Capture.Width, cfg.Capture.Height)
	}
	if cfg.Capture.NativeFPS != 30 {
		t.Errorf("NativeFPS = %v, want 30", cfg.Capture.NativeFPS)
	}
	if cfg.Capture.MaxConsecutiveFaults != 150 {
		t.Errorf("MaxConsecutiveFaults = %d, want 150", cfg.Capture.MaxConsecutiveFaults)
	}
	if cfg.Session.FPS != 5 || cfg.Session.Codec != "IYUV" {
		t.Errorf("session = %v fps / %q, want 5 / IYUV", cfg.Session.FPS, cfg.Session.Codec)
	}
	if got := cfg.Session.GracePeriod(); got != 5*time.Second {
		t.Errorf("GracePeriod() = %v, want 5s", got)
	}
	if cfg.Trigger.StartLine != "port1/line0" || cfg.Trigger.StopLine != "port1/line1" {
		t.Errorf("lines = %q/%q, want port1/line0 and port1/line1", cfg.Trigger.StartLine, cfg.Trigger.StopLine)
	}
	if got := cfg.Trigger.PollInterval(); got != 5*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 5ms", got)
	}
	if cfg.MQTT.Topics.Lines != "lab/trigger/Dev_3DT" {
		t.Errorf("Topics.Lines = %q, want lab/trigger/Dev_3DT", cfg.MQTT.Topics.Lines)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
capture:
  backend: gstreamer
  width: 1920
  height: 1080
  native_fps: 60
session:
  fps: 10
  codec: MJPG
  grace_period_s: 2
trigger:
  device: Dev_Rig2
  start_line: port0/line2
  stop_line: port0/line3
mqtt:
  broker: tcp://broker.lab:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Capture.Backend != "gstreamer" {
		t.Errorf("Backend = %q, want gstreamer", cfg.Capture.Backend)
	}
	if cfg.Session.FPS != 10 || cfg.Session.Codec != "MJPG" {
		t.Errorf("session = %v fps / %q, want 10 / MJPG", cfg.Session.FPS, cfg.Session.Codec)
	}
	// Unset fields still get defaults.
	if cfg.Capture.MaxConsecutiveFaults != 150 {
		t.Errorf("MaxConsecutiveFaults = %d, want default 150", cfg.Capture.MaxConsecutiveFaults)
	}
	// Derived topic follows the configured trigger device.
	if cfg.MQTT.Topics.Lines != "lab/trigger/Dev_Rig2" {
		t.Errorf("Topics.Lines = %q, want lab/trigger/Dev_Rig2", cfg.MQTT.Topics.Lines)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Capture.Backend = "v4l2" },
			wantSub: "capture.backend",
		},
		{
			name:    "bad fourcc",
			mutate:  func(c *Config) { c.Session.Codec = "H264X" },
			wantSub: "four-character",
		},
		{
			name: "fps above native",
			mutate: func(c *Config) {
				c.Capture.NativeFPS = 30
				c.Session.FPS = 60
			},
			wantSub: "native_fps",
		},
		{
			name: "same start and stop line",
			mutate: func(c *Config) {
				c.Trigger.StartLine = "port1/line0"
				c.Trigger.StopLine = "port1/line0"
			},
			wantSub: "must differ",
		},
		{
			name:    "qos out of range",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantSub: "mqtt.qos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("Validate() accepted %s", tt.name)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}
