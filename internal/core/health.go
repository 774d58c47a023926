package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/care/sentinel/internal/classifier"
	"github.com/care/sentinel/internal/emitter"
	"github.com/care/sentinel/internal/eventbus"
	"github.com/care/sentinel/internal/presenter"
)

// AlarmHealth is the alarm part of the health report.
type AlarmHealth struct {
	Enabled   bool   `json:"enabled"`
	Attention bool   `json:"attention"`
	Playing   bool   `json:"playing"`
	Starts    uint64 `json:"starts"`
	Stops     uint64 `json:"stops"`
}

// StreamHealth describes the stream being analyzed.
type StreamHealth struct {
	ID              string `json:"id"`
	Path            string `json:"path,omitempty"`
	FramesDisplayed uint64 `json:"frames_displayed"`
}

// HealthStatus represents the health state of the Sentinel service
type HealthStatus struct {
	Status        string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	InstanceID    string                    `json:"instance_id"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	MQTTConnected bool                      `json:"mqtt_connected"`
	Stream        *StreamHealth             `json:"stream,omitempty"`
	Alarm         AlarmHealth               `json:"alarm"`
	Classifier    *classifier.WorkerMetrics `json:"classifier,omitempty"`
	Events        eventbus.Stats            `json:"events"`
	Emitter       *emitter.Stats            `json:"emitter,omitempty"`
	LastStream    map[string]interface{}    `json:"last_stream,omitempty"`
}

// metricsSource is implemented by classifiers that report worker metrics.
type metricsSource interface {
	Metrics() classifier.WorkerMetrics
}

func workerMetrics(c classifier.Classifier) (metricsSource, bool) {
	if b, ok := c.(*classifier.Bounded); ok {
		c = b.Unwrap()
	}
	ms, ok := c.(metricsSource)
	return ms, ok
}

// HealthCheck returns the current health status of the service
func (s *Sentinel) HealthCheck() HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	starts, stops := s.alarm.Effects()
	status := HealthStatus{
		Status:        "healthy",
		InstanceID:    s.cfg.InstanceID,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Alarm: AlarmHealth{
			Enabled:   s.alarm.Enabled(),
			Attention: s.alarm.Attention(),
			Playing:   s.alarm.Playing(),
			Starts:    starts,
			Stops:     stops,
		},
		Events: s.bus.Stats(),
	}

	if s.active != nil {
		status.Stream = &StreamHealth{
			ID:              s.active.id,
			Path:            s.active.path,
			FramesDisplayed: s.display.Frames(),
		}
	}

	if ms, ok := workerMetrics(s.classifier); ok {
		m := ms.Metrics()
		status.Classifier = &m
	}

	if s.emitter != nil {
		st := s.emitter.Stats()
		status.Emitter = &st
		status.MQTTConnected = st.Connected
	}

	if s.lastResult != nil {
		status.LastStream = resultSummary(s.lastResult, s.lastErr)
	}

	if s.emitter != nil && !status.MQTTConnected {
		status.Status = "degraded"
	}
	if s.lastErr != nil && outcomeOf(s.lastErr) == "failed" {
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Sentinel) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check)
func (s *Sentinel) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// FrameHandler handles /frame: the annotated live frame as PNG.
func (s *Sentinel) FrameHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.display.SnapshotPNG()
	if errors.Is(err, presenter.ErrNoFrame) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// Handler returns the HTTP routes served by the health server.
func (s *Sentinel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/frame", s.FrameHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartHealthServer starts the HTTP health check server on the given port
// This runs in a separate goroutine and does not block
func (s *Sentinel) StartHealthServer(port int) error {
	if port == 0 {
		return nil
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics", "/frame"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	s.mu.Lock()
	s.health = server
	s.mu.Unlock()
	return nil
}

func jsonHealth(h HealthStatus) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"type":   "health",
		"health": h,
	})
}
