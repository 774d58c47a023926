package core

import (
	"log/slog"
	"time"

	"github.com/care/sentinel/internal/pipeline"
)

// getStatus backs the get_status control command.
func (s *Sentinel) getStatus() map[string]interface{} {
	h := s.HealthCheck()

	status := map[string]interface{}{
		"instance_id":    h.InstanceID,
		"uptime_seconds": h.UptimeSeconds,
		"stream_active":  h.Stream != nil,
		"alarm_enabled":  h.Alarm.Enabled,
		"alarm_active":   h.Alarm.Attention,
		"events":         h.Events,
	}
	if h.Stream != nil {
		status["stream_id"] = h.Stream.ID
		status["frames_displayed"] = h.Stream.FramesDisplayed
	}
	if p, ok := s.display.Panel(); ok {
		status["predict"] = p.Label.String()
		status["theft"] = p.TheftPct
		status["normal"] = p.NormalPct
	}
	if h.LastStream != nil {
		status["last_stream"] = h.LastStream
	}
	return status
}

// shutdownViaControl backs the shutdown control command.
func (s *Sentinel) shutdownViaControl() error {
	slog.Info("shutdown requested via control plane")

	s.mu.RLock()
	cancel := s.cancelCtx
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func resultSummary(res *pipeline.Result, err error) map[string]interface{} {
	out := map[string]interface{}{
		"stream_id":       res.StreamID,
		"frames":          res.Frames,
		"windows":         res.Windows,
		"discarded":       res.Discarded,
		"alarm_episodes":  res.AlarmEpisodes,
		"flagged":         res.Flagged,
		"report":          res.Report.Positions(),
		"latency_mean_ms": float64(res.Latency.Mean) / float64(time.Millisecond),
		"latency_p95_ms":  float64(res.Latency.P95) / float64(time.Millisecond),
		"outcome":         outcomeOf(err),
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}
