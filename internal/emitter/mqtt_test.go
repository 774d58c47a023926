package emitter

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/sentinel/internal/alert"
	"github.com/care/sentinel/internal/config"
	"github.com/care/sentinel/internal/pipeline"
	"github.com/care/sentinel/internal/types"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes. Methods not overridden panic via the nil interface.
type fakeClient struct {
	mqtt.Client

	mu   sync.Mutex
	msgs []published
	err  error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) IsConnected() bool { return true }
func (c *fakeClient) Disconnect(uint)   {}

func newTestEmitter(t *testing.T) (*MQTTEmitter, *fakeClient) {
	t.Helper()
	cfg := config.Default()
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "localhost:1883"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	client := &fakeClient{}
	e := NewMQTTEmitter(cfg)
	e.Client = client
	e.connected = true
	return e, client
}

func TestEventsTopicsAndQoS(t *testing.T) {
	e, client := newTestEmitter(t)

	e.OnEvent(pipeline.FrameDisplayed{})
	e.OnEvent(pipeline.WindowClassified{
		StreamID:   "s1",
		FirstSeq:   90,
		LastSeq:    119,
		Result:     types.ClassificationResult{Probabilities: [2]float64{0.1, 0.9}},
		Transition: alert.Transition{Window: 3, Label: types.LabelTheft, Current: alert.Alarmed, Count: 3},
	})
	e.OnEvent(pipeline.AlarmRaised{StreamID: "s1", Window: 3, Count: 3})
	e.OnEvent(pipeline.ReportReady{StreamID: "s1", Total: 0})

	tests := []struct {
		topic string
		qos   byte
	}{
		{"care/events/sentinel-local/window", 0},
		{"care/events/sentinel-local/alarm_raised", 1},
		{"care/events/sentinel-local/report", 1},
	}
	if len(client.msgs) != len(tests) {
		t.Fatalf("Expected %d messages (frames skipped), got %d", len(tests), len(client.msgs))
	}
	for i, tt := range tests {
		if client.msgs[i].topic != tt.topic {
			t.Errorf("message %d: expected topic %s, got %s", i, tt.topic, client.msgs[i].topic)
		}
		if client.msgs[i].qos != tt.qos {
			t.Errorf("message %d: expected qos %d, got %d", i, tt.qos, client.msgs[i].qos)
		}
	}

	var w map[string]interface{}
	if err := json.Unmarshal(client.msgs[0].payload, &w); err != nil {
		t.Fatalf("unmarshal window: %v", err)
	}
	if w["label"] != "theft" || w["state"] != "alarmed" || w["window"].(float64) != 3 {
		t.Errorf("Unexpected window payload: %v", w)
	}

	if got := e.Stats().Published["care/events/sentinel-local/window"]; got != 1 {
		t.Errorf("Expected 1 published window, got %d", got)
	}
}

func TestPublishAlarmRetained(t *testing.T) {
	e, client := newTestEmitter(t)

	if err := e.PublishAlarm(true); err != nil {
		t.Fatalf("PublishAlarm: %v", err)
	}
	msg := client.msgs[0]
	if msg.topic != "care/alarm/sentinel-local" || !msg.retained {
		t.Errorf("Expected retained alarm topic, got %+v", msg)
	}

	var a alarmMessage
	if err := json.Unmarshal(msg.payload, &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !a.Active || a.InstanceID != "sentinel-local" {
		t.Errorf("Unexpected alarm payload: %+v", a)
	}
}

func TestPublishErrorsCounted(t *testing.T) {
	e, client := newTestEmitter(t)

	client.err = errors.New("not authorized")
	if err := e.PublishHealth([]byte("{}")); err == nil {
		t.Error("Expected publish error")
	}

	e.connected = false
	if err := e.PublishAlarm(false); err == nil {
		t.Error("Expected error while disconnected")
	}

	if got := e.Stats().Errors; got != 2 {
		t.Errorf("Expected 2 errors, got %d", got)
	}
}

func TestDisconnect(t *testing.T) {
	e, _ := newTestEmitter(t)
	e.Disconnect()
	if e.Stats().Connected {
		t.Error("Expected disconnected")
	}
}
