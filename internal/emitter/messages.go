// Package emitter publishes detection results over MQTT.
package emitter

import (
	"time"

	"github.com/care/sentinel/internal/types"
)

type windowMessage struct {
	InstanceID string      `json:"instance_id"`
	StreamID   string      `json:"stream_id"`
	Window     int         `json:"window"`
	FirstSeq   uint64      `json:"first_seq"`
	LastSeq    uint64      `json:"last_seq"`
	Label      types.Label `json:"label"`
	Normal     float64     `json:"normal"`
	Theft      float64     `json:"theft"`
	State      string      `json:"state"`
	Count      int         `json:"count"`
	LatencyMS  float64     `json:"latency_ms"`
	Timestamp  time.Time   `json:"timestamp"`
}

type alarmEventMessage struct {
	InstanceID string    `json:"instance_id"`
	StreamID   string    `json:"stream_id"`
	Window     int       `json:"window"`
	Count      int       `json:"count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type reportMessage struct {
	InstanceID string    `json:"instance_id"`
	StreamID   string    `json:"stream_id"`
	Total      int       `json:"total"`
	Positions  []int     `json:"positions"`
	Timestamp  time.Time `json:"timestamp"`
}

// alarmMessage is the retained alarm level.
type alarmMessage struct {
	InstanceID string    `json:"instance_id"`
	Active     bool      `json:"active"`
	Timestamp  time.Time `json:"timestamp"`
}
