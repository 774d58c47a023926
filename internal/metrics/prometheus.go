// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/care/sentinel/internal/pipeline"
)

var (
	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_frames_total",
		Help: "Total number of frames consumed across all streams",
	})

	WindowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_windows_total",
		Help: "Total number of windows classified, by label",
	}, []string{"label"})

	AlarmsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_alarms_total",
		Help: "Total number of alarm episodes raised",
	})

	FlaggedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_flagged_frames_total",
		Help: "Total number of frames collected while alarmed",
	})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_inference_duration_seconds",
		Help:    "Classifier latency per window",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	StreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_streams_total",
		Help: "Total number of streams finished, by outcome",
	}, []string{"outcome"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_active_streams",
		Help: "Number of streams currently being analyzed",
	})

	AlarmActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_alarm_active",
		Help: "1 while any stream is in the alarmed state",
	})
)

// Outcome labels for StreamsTotal.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Recorder is a pipeline.Observer that updates the package metrics.
type Recorder struct{}

// OnEvent implements pipeline.Observer.
func (Recorder) OnEvent(e pipeline.Event) {
	switch ev := e.(type) {
	case pipeline.FrameDisplayed:
		FramesTotal.Inc()
	case pipeline.WindowClassified:
		WindowsTotal.WithLabelValues(ev.Transition.Label.String()).Inc()
		InferenceDuration.Observe(ev.Result.Latency.Seconds())
		FlaggedFramesTotal.Add(float64(ev.Transition.Flagged))
	case pipeline.AlarmRaised:
		AlarmsTotal.Inc()
		AlarmActive.Set(1)
	case pipeline.AlarmCleared:
		AlarmActive.Set(0)
	}
}

// StreamStarted marks a stream as active.
func StreamStarted() {
	ActiveStreams.Inc()
}

// StreamFinished records the outcome and clears the alarm gauge, which the
// pipeline always silences on exit.
func StreamFinished(outcome string) {
	ActiveStreams.Dec()
	AlarmActive.Set(0)
	StreamsTotal.WithLabelValues(outcome).Inc()
}
