package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// SENTINEL_PIPELINE_SEQUENCE_COUNT or SENTINEL_MQTT_BROKER.
const EnvPrefix = "SENTINEL_"

// Config represents the complete Sentinel configuration
type Config struct {
	InstanceID       string           `yaml:"instance_id" env:"INSTANCE_ID"`
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s" env:"SHUTDOWN_TIMEOUT_S"` // Graceful shutdown timeout in seconds (default: 5)
	Pipeline         PipelineConfig   `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Stream           StreamConfig     `yaml:"stream" envPrefix:"STREAM_"`
	Display          DisplayConfig    `yaml:"display" envPrefix:"DISPLAY_"`
	Classifier       ClassifierConfig `yaml:"classifier" envPrefix:"CLASSIFIER_"`
	Alarm            AlarmConfig      `yaml:"alarm" envPrefix:"ALARM_"`
	MQTT             MQTTConfig       `yaml:"mqtt" envPrefix:"MQTT_"`
	Store            StoreConfig      `yaml:"store" envPrefix:"STORE_"`
	Report           ReportConfig     `yaml:"report" envPrefix:"REPORT_"`
	Health           HealthConfig     `yaml:"health" envPrefix:"HEALTH_"`
}

// PipelineConfig contains the windowing and alerting constants
type PipelineConfig struct {
	SequenceCount     int `yaml:"sequence_count" env:"SEQUENCE_COUNT"`         // frames per window (default: 30)
	DebounceThreshold int `yaml:"debounce_threshold" env:"DEBOUNCE_THRESHOLD"` // consecutive Theft windows before alarming (default: 3)
	ReportSampleSize  int `yaml:"report_sample_size" env:"REPORT_SAMPLE_SIZE"` // frames shown in the report (default: 6)
	ReportColumns     int `yaml:"report_columns" env:"REPORT_COLUMNS"`         // report grid columns (default: 3)
}

// StreamConfig selects the frame source
type StreamConfig struct {
	Source string `yaml:"source" env:"SOURCE"` // synthetic, gst, opencv
	Path   string `yaml:"path" env:"PATH"`
	Width  int    `yaml:"width" env:"WIDTH"`   // model input width (default: 160)
	Height int    `yaml:"height" env:"HEIGHT"` // model input height (default: 120)
	FPS    int    `yaml:"fps" env:"FPS"`       // 0 keeps the file rate
	Frames int    `yaml:"frames" env:"FRAMES"` // synthetic stream length
}

// DisplayConfig is the size frames are rendered at for operators and reports
type DisplayConfig struct {
	Width  int `yaml:"width" env:"WIDTH"`
	Height int `yaml:"height" env:"HEIGHT"`
}

// ClassifierConfig selects and configures the model adapter
type ClassifierConfig struct {
	Mode     string   `yaml:"mode" env:"MODE"` // subprocess, scripted
	Command  string   `yaml:"command" env:"COMMAND"`
	Args     []string `yaml:"args" env:"ARGS" envSeparator:" "`
	TimeoutS int      `yaml:"timeout_s" env:"TIMEOUT_S"` // per-window inference bound (default: 10)
	Script   string   `yaml:"script" env:"SCRIPT"`       // scripted mode labels, e.g. "N,T,T,T,N"
	Loop     bool     `yaml:"loop" env:"LOOP"`
}

// AlarmConfig contains the audible alarm settings
type AlarmConfig struct {
	Enabled    bool     `yaml:"enabled" env:"ENABLED"`
	Player     string   `yaml:"player" env:"PLAYER"` // e.g. ffplay; empty logs only
	PlayerArgs []string `yaml:"player_args" env:"PLAYER_ARGS" envSeparator:" "`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled bool            `yaml:"enabled" env:"ENABLED"`
	Broker  string          `yaml:"broker" env:"BROKER"`
	Topics  MQTTTopics      `yaml:"topics" envPrefix:"TOPIC_"`
	QoS     map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control" env:"CONTROL"`
	Events  string `yaml:"events" env:"EVENTS"`
	Health  string `yaml:"health" env:"HEALTH"`
	Alarm   string `yaml:"alarm" env:"ALARM"`
}

// StoreConfig contains incident database settings
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// ReportConfig contains report output settings
type ReportConfig struct {
	OutputDir string       `yaml:"output_dir" env:"OUTPUT_DIR"`
	Upload    UploadConfig `yaml:"upload" envPrefix:"UPLOAD_"`
}

// UploadConfig describes the object store reports are copied to
type UploadConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Port int `yaml:"port" env:"PORT"` // 0 disables the server
}

// Default returns a configuration that runs the synthetic demo
func Default() *Config {
	return &Config{
		InstanceID:       "sentinel-local",
		ShutdownTimeoutS: 5,
		Pipeline: PipelineConfig{
			SequenceCount:     30,
			DebounceThreshold: 3,
			ReportSampleSize:  6,
			ReportColumns:     3,
		},
		Stream: StreamConfig{
			Source: "synthetic",
			Width:  160,
			Height: 120,
			Frames: 300,
		},
		Display: DisplayConfig{
			Width:  640,
			Height: 480,
		},
		Classifier: ClassifierConfig{
			Mode:     "scripted",
			TimeoutS: 10,
			Script:   "N,T,T,T,N",
			Loop:     true,
		},
		Alarm: AlarmConfig{
			Enabled: true,
		},
		Store: StoreConfig{
			Path: "sentinel.db",
		},
		Report: ReportConfig{
			OutputDir: "reports",
		},
		Health: HealthConfig{
			Port: 8080,
		},
	}
}

// Load reads a YAML file over the defaults, applies SENTINEL_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Timeout returns the per-window inference bound
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}
