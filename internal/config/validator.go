package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills derived defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validatePipeline(cfg.Pipeline); err != nil {
		return err
	}
	if err := validateStream(cfg.Stream); err != nil {
		return err
	}
	if cfg.Display.Width <= 0 || cfg.Display.Height <= 0 {
		return fmt.Errorf("display size must be > 0, got %dx%d", cfg.Display.Width, cfg.Display.Height)
	}
	if err := validateClassifier(cfg.Classifier); err != nil {
		return err
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		setMQTTDefaults(cfg)
	}

	if cfg.Store.Enabled && cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}

	if up := cfg.Report.Upload; up.Enabled {
		if up.Endpoint == "" || up.Bucket == "" {
			return fmt.Errorf("report.upload requires endpoint and bucket")
		}
	}

	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		return fmt.Errorf("health.port out of range: %d", cfg.Health.Port)
	}

	return nil
}

func validatePipeline(p PipelineConfig) error {
	if p.SequenceCount <= 0 {
		return fmt.Errorf("pipeline.sequence_count must be > 0")
	}
	if p.DebounceThreshold <= 0 {
		return fmt.Errorf("pipeline.debounce_threshold must be > 0")
	}
	if p.ReportSampleSize <= 0 {
		return fmt.Errorf("pipeline.report_sample_size must be > 0")
	}
	if p.ReportColumns <= 0 {
		return fmt.Errorf("pipeline.report_columns must be > 0")
	}
	return nil
}

func validateStream(s StreamConfig) error {
	switch s.Source {
	case "synthetic":
		if s.Frames < 0 {
			return fmt.Errorf("stream.frames must not be negative")
		}
	case "gst", "opencv":
		// Path may come from the command line or the analyze command.
	default:
		return fmt.Errorf("stream.source %q unknown (must be synthetic, gst or opencv)", s.Source)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("stream size must be > 0, got %dx%d", s.Width, s.Height)
	}
	if s.FPS < 0 {
		return fmt.Errorf("stream.fps must not be negative")
	}
	return nil
}

func validateClassifier(c ClassifierConfig) error {
	switch c.Mode {
	case "subprocess":
		if c.Command == "" {
			return fmt.Errorf("classifier.command is required in subprocess mode")
		}
	case "scripted":
		if c.Script == "" {
			return fmt.Errorf("classifier.script is required in scripted mode")
		}
	default:
		return fmt.Errorf("classifier.mode %q unknown (must be subprocess or scripted)", c.Mode)
	}
	if c.TimeoutS < 0 {
		return fmt.Errorf("classifier.timeout_s must not be negative")
	}
	return nil
}

func setMQTTDefaults(cfg *Config) {
	t := &cfg.MQTT.Topics
	if t.Control == "" {
		t.Control = fmt.Sprintf("care/control/%s", cfg.InstanceID)
	}
	if t.Events == "" {
		t.Events = fmt.Sprintf("care/events/%s", cfg.InstanceID)
	}
	if t.Health == "" {
		t.Health = fmt.Sprintf("care/health/%s", cfg.InstanceID)
	}
	if t.Alarm == "" {
		t.Alarm = fmt.Sprintf("care/alarm/%s", cfg.InstanceID)
	}

	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control": 1,
			"alarm":   1,
			"report":  1,
			"window":  0,
			"health":  0,
		}
	}
}
