// Package emitter publishes session lifecycle events to MQTT so other
// lab instruments (stimulus controllers, acquisition PCs) can follow the
// recorder's state.
package emitter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chiba-lab/3DTracker/internal/config"
	"github.com/chiba-lab/3DTracker/internal/session"
)

// MQTTEmitter publishes session events to an MQTT broker. It implements
// session.EventSink: emission never blocks the session state machine
// beyond a short publish timeout, and a failed publish is logged, not
// escalated — the recording matters more than the announcement.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	Client mqtt.Client // shared with the trigger line provider

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTEmitter creates a disconnected emitter.
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Connect establishes the broker connection.
func (e *MQTTEmitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt: connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt: connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("mqtt: connecting", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// EmitSessionEvent publishes one lifecycle event to the sessions topic.
func (e *MQTTEmitter) EmitSessionEvent(ev session.Event) {
	if !e.isConnected() {
		e.countError()
		slog.Warn("mqtt: dropping session event, not connected",
			"session_id", ev.SessionID, "state", ev.State)
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		slog.Error("mqtt: failed to marshal session event", "error", err)
		return
	}

	token := e.Client.Publish(e.cfg.Topics.Sessions, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		slog.Warn("mqtt: session event publish timed out",
			"topic", e.cfg.Topics.Sessions, "state", ev.State)
		return
	}
	if err := token.Error(); err != nil {
		e.countError()
		slog.Warn("mqtt: session event publish failed", "error", err)
		return
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("mqtt: session event published",
		"topic", e.cfg.Topics.Sessions,
		"state", ev.State,
		"size", len(payload),
	)
}

// Disconnect closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("mqtt: disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
