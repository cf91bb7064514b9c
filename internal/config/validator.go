package config

import "fmt"

// applyDefaults fills every unset field with its operational default.
// The defaults describe the lab's standard rig: native 4096x2160 sensors
// at 30 Hz, 5 fps output, trigger lines on the Dev_3DT device.
func applyDefaults(cfg *Config) {
	if cfg.Capture.Backend == "" {
		cfg.Capture.Backend = "opencv"
	}
	if cfg.Capture.Width <= 0 {
		cfg.Capture.Width = 4096
	}
	if cfg.Capture.Height <= 0 {
		cfg.Capture.Height = 2160
	}
	if cfg.Capture.NativeFPS <= 0 {
		cfg.Capture.NativeFPS = 30
	}
	if cfg.Capture.MaxConsecutiveFaults <= 0 {
		cfg.Capture.MaxConsecutiveFaults = 150
	}

	if cfg.Session.FPS <= 0 {
		cfg.Session.FPS = 5
	}
	if cfg.Session.Codec == "" {
		cfg.Session.Codec = "IYUV"
	}
	if cfg.Session.GracePeriodS <= 0 {
		cfg.Session.GracePeriodS = 5
	}

	if cfg.Trigger.Device == "" {
		cfg.Trigger.Device = "Dev_3DT"
	}
	if cfg.Trigger.StartLine == "" {
		cfg.Trigger.StartLine = "port1/line0"
	}
	if cfg.Trigger.StopLine == "" {
		cfg.Trigger.StopLine = "port1/line1"
	}
	if cfg.Trigger.PollIntervalMS <= 0 {
		cfg.Trigger.PollIntervalMS = 5
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "quadcam"
	}
	if cfg.MQTT.Topics.Lines == "" {
		cfg.MQTT.Topics.Lines = fmt.Sprintf("lab/trigger/%s", cfg.Trigger.Device)
	}
	if cfg.MQTT.Topics.Sessions == "" {
		cfg.MQTT.Topics.Sessions = "lab/recorder/sessions"
	}
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}
}

// Validate checks if the configuration is valid and fills defaults.
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	switch cfg.Capture.Backend {
	case "opencv", "gstreamer":
	default:
		return fmt.Errorf("capture.backend must be 'opencv' or 'gstreamer', got %q", cfg.Capture.Backend)
	}

	if len(cfg.Session.Codec) != 4 {
		return fmt.Errorf("session.codec must be a four-character FOURCC, got %q", cfg.Session.Codec)
	}

	if cfg.Session.FPS > cfg.Capture.NativeFPS {
		return fmt.Errorf("session.fps %.1f exceeds capture.native_fps %.1f: the writer would duplicate frames",
			cfg.Session.FPS, cfg.Capture.NativeFPS)
	}

	if cfg.Trigger.StartLine == cfg.Trigger.StopLine {
		return fmt.Errorf("trigger.start_line and trigger.stop_line must differ, both are %q", cfg.Trigger.StartLine)
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}

	return nil
}
