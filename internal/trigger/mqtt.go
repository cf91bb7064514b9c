package trigger

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTProvider acquires trigger lines from an MQTT broker. It is the
// software-trigger path for rigs without a DAQ break-out: another
// instrument publishes "1"/"0" (retained) to <prefix>/<line-id>, and the
// gate samples the latest observed value.
//
// The hardware-line semantics are preserved: a line is acquired for one
// wait phase (subscribe), sampled through the Gate, then released
// (unsubscribe) before the next phase takes its line.
type MQTTProvider struct {
	client mqtt.Client
	prefix string
}

// NewMQTTProvider wraps a connected client. prefix is the topic prefix
// the line id is appended to (e.g. "rig/trigger").
func NewMQTTProvider(client mqtt.Client, prefix string) *MQTTProvider {
	return &MQTTProvider{client: client, prefix: strings.TrimSuffix(prefix, "/")}
}

// OpenLine subscribes to the line's topic and returns a sampling handle.
func (p *MQTTProvider) OpenLine(id string) (Line, error) {
	topic := p.prefix + "/" + id
	line := &mqttLine{client: p.client, topic: topic}

	token := p.client.Subscribe(topic, 1, line.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("trigger: subscription to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("trigger: subscription to %s failed: %w", topic, err)
	}

	slog.Info("trigger: line acquired", "topic", topic)
	return line, nil
}

type mqttLine struct {
	client mqtt.Client
	topic  string
	level  atomic.Bool
}

func (l *mqttLine) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	high := payload == "1" || strings.EqualFold(payload, "true")
	l.level.Store(high)
	slog.Debug("trigger: line level updated", "topic", l.topic, "level", high)
}

// Sample returns the latest observed level. A line with no message yet
// reads low.
func (l *mqttLine) Sample() (bool, error) {
	if !l.client.IsConnected() {
		return false, fmt.Errorf("trigger: mqtt connection lost while sampling %s", l.topic)
	}
	return l.level.Load(), nil
}

// Close unsubscribes from the line's topic.
func (l *mqttLine) Close() error {
	token := l.client.Unsubscribe(l.topic)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("trigger: unsubscribe from %s timed out", l.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("trigger: unsubscribe from %s failed: %w", l.topic, err)
	}
	slog.Info("trigger: line released", "topic", l.topic)
	return nil
}
