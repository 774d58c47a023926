package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/sentinel/internal/config"
	"github.com/care/sentinel/internal/pipeline"
)

// MQTTEmitter publishes detection events and the alarm level to the broker.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Retained "offline" alarm state if we vanish while alarming.
	if will, err := json.Marshal(alarmMessage{InstanceID: e.cfg.InstanceID, Active: false}); err == nil {
		opts.SetWill(e.cfg.MQTT.Topics.Alarm, string(will), e.cfg.MQTT.QoS["alarm"], true)
	}

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
			"max_retry_interval", "30s")
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// OnEvent implements pipeline.Observer. Frames are not published; every
// other event goes to <events topic>/<kind>. Failures are counted, never
// propagated to the pipeline.
func (e *MQTTEmitter) OnEvent(ev pipeline.Event) {
	msg, qosKey, ok := e.message(ev)
	if !ok {
		return
	}

	topic := fmt.Sprintf("%s/%s", e.cfg.MQTT.Topics.Events, ev.Kind())
	if err := e.publishJSON(topic, e.cfg.MQTT.QoS[qosKey], false, msg); err != nil {
		slog.Debug("event not published", "topic", topic, "error", err)
	}
}

func (e *MQTTEmitter) message(ev pipeline.Event) (msg interface{}, qosKey string, ok bool) {
	now := time.Now().UTC()
	id := e.cfg.InstanceID

	switch v := ev.(type) {
	case pipeline.WindowClassified:
		return windowMessage{
			InstanceID: id,
			StreamID:   v.StreamID,
			Window:     v.Transition.Window,
			FirstSeq:   v.FirstSeq,
			LastSeq:    v.LastSeq,
			Label:      v.Transition.Label,
			Normal:     v.Result.Normal(),
			Theft:      v.Result.Theft(),
			State:      v.Transition.Current.String(),
			Count:      v.Transition.Count,
			LatencyMS:  float64(v.Result.Latency) / float64(time.Millisecond),
			Timestamp:  now,
		}, "window", true
	case pipeline.AlarmRaised:
		return alarmEventMessage{InstanceID: id, StreamID: v.StreamID, Window: v.Window, Count: v.Count, Timestamp: now}, "alarm", true
	case pipeline.AlarmCleared:
		return alarmEventMessage{InstanceID: id, StreamID: v.StreamID, Window: v.Window, Timestamp: now}, "alarm", true
	case pipeline.ReportReady:
		return reportMessage{InstanceID: id, StreamID: v.StreamID, Total: v.Total, Positions: v.Sample.Positions(), Timestamp: now}, "report", true
	default:
		return nil, "", false
	}
}

// PublishAlarm publishes the retained alarm level. Implements alarm.Publisher.
func (e *MQTTEmitter) PublishAlarm(on bool) error {
	msg := alarmMessage{InstanceID: e.cfg.InstanceID, Active: on, Timestamp: time.Now().UTC()}
	return e.publishJSON(e.cfg.MQTT.Topics.Alarm, e.cfg.MQTT.QoS["alarm"], true, msg)
}

// PublishHealth publishes a health message
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Health, e.cfg.MQTT.QoS["health"], false, payload)
}

func (e *MQTTEmitter) publishJSON(topic string, qos byte, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return e.publish(topic, qos, retained, payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("message published",
		"topic", topic,
		"qos", qos,
		"retained", retained,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// isConnected returns connection status
func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
