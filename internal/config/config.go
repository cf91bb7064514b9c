// Package config loads the recorder's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete recorder configuration.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Session SessionConfig `yaml:"session"`
	Trigger TriggerConfig `yaml:"trigger"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// CaptureConfig contains the camera device settings shared by every
// stream.
type CaptureConfig struct {
	Backend              string  `yaml:"backend"`                // opencv, gstreamer
	Width                int     `yaml:"width"`                  // requested capture width
	Height               int     `yaml:"height"`                 // requested capture height
	NativeFPS            float64 `yaml:"native_fps"`             // sensor rate requested from the device
	MaxConsecutiveFaults int     `yaml:"max_consecutive_faults"` // grab-failure escalation threshold
}

// SessionConfig contains the recording settings.
type SessionConfig struct {
	FPS          float64 `yaml:"fps"`            // target output rate, frames per second
	Codec        string  `yaml:"codec"`          // FOURCC, e.g. IYUV, XVID, MJPG
	GracePeriodS int     `yaml:"grace_period_s"` // teardown delay before file/device release
}

// TriggerConfig contains the trigger line settings used when no fixed
// duration is given.
type TriggerConfig struct {
	Device         string `yaml:"device"`           // trigger device name, e.g. Dev_3DT
	StartLine      string `yaml:"start_line"`       // e.g. port1/line0
	StopLine       string `yaml:"stop_line"`        // e.g. port1/line1
	PollIntervalMS int    `yaml:"poll_interval_ms"` // line sampling cadence
}

// MQTTConfig contains MQTT broker settings for trigger lines and
// session lifecycle events.
type MQTTConfig struct {
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      byte       `yaml:"qos"`
}

// MQTTTopics contains topic templates.
type MQTTTopics struct {
	Lines    string `yaml:"lines"`    // prefix; line state arrives on <lines>/<line id>
	Sessions string `yaml:"sessions"` // session lifecycle events are published here
}

// Default returns the configuration used when no file is given: four
// native-resolution cameras, 5 fps output, trigger lines on Dev_3DT.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// GracePeriod returns the teardown delay as a duration.
func (s SessionConfig) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodS) * time.Second
}

// PollInterval returns the line sampling cadence as a duration.
func (t TriggerConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMS) * time.Millisecond
}
