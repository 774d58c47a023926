package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/care/sentinel/internal/alarm"
	"github.com/care/sentinel/internal/alert"
	"github.com/care/sentinel/internal/classifier"
	"github.com/care/sentinel/internal/config"
	"github.com/care/sentinel/internal/control"
	"github.com/care/sentinel/internal/emitter"
	"github.com/care/sentinel/internal/eventbus"
	"github.com/care/sentinel/internal/metrics"
	"github.com/care/sentinel/internal/pipeline"
	"github.com/care/sentinel/internal/presenter"
	"github.com/care/sentinel/internal/source"
	"github.com/care/sentinel/internal/storage"
	"github.com/care/sentinel/internal/store"
)

// ErrBusy is returned when a stream is already being analyzed.
var ErrBusy = errors.New("a stream is already being analyzed")

// mqttQueueSize bounds events waiting for the broker.
const mqttQueueSize = 256

// SourceOpener opens a frame source for one stream.
type SourceOpener func(cfg config.StreamConfig) (source.Source, error)

// Option customizes a Sentinel.
type Option func(*Sentinel)

// WithSourceOpener registers an opener for stream.source == name.
func WithSourceOpener(name string, open SourceOpener) Option {
	return func(s *Sentinel) { s.openers[name] = open }
}

// WithClassifier replaces the classifier built from configuration.
func WithClassifier(c classifier.Classifier) Option {
	return func(s *Sentinel) { s.classifier = c }
}

// WithAlarmSink replaces the local alarm output built from configuration.
func WithAlarmSink(sink alert.Sink) Option {
	return func(s *Sentinel) { s.localSink = sink }
}

// Sentinel is the service orchestrator: it owns the pipeline and everything
// hanging off its events.
type Sentinel struct {
	cfg *config.Config

	// Core components
	classifier classifier.Classifier
	localSink  alert.Sink
	alarm      *alert.Alarm
	pipeline   *pipeline.Pipeline
	bus        *eventbus.Bus
	display    *presenter.Display
	reports    *presenter.ReportWriter
	store      *store.Store
	uploader   *storage.Uploader
	emitter    *emitter.MQTTEmitter
	control    *control.Handler
	openers    map[string]SourceOpener
	health     *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	runCtx    context.Context
	cancelCtx context.CancelFunc

	// Stream being analyzed
	active     *activeStream
	lastResult *pipeline.Result
	lastErr    error
}

type activeStream struct {
	id     string
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Sentinel from configuration. Nothing touches the network
// until Run.
func New(cfg *config.Config, opts ...Option) (*Sentinel, error) {
	s := &Sentinel{
		cfg:     cfg,
		bus:     eventbus.New(),
		display: presenter.NewDisplay(cfg.Display.Width, cfg.Display.Height),
		openers: map[string]SourceOpener{"synthetic": openSynthetic},
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.classifier == nil {
		c, err := buildClassifier(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build classifier: %w", err)
		}
		s.classifier = c
	}

	if cfg.MQTT.Enabled {
		s.emitter = emitter.NewMQTTEmitter(cfg)
	}

	sink, err := s.buildSink()
	if err != nil {
		return nil, fmt.Errorf("failed to build alarm sink: %w", err)
	}
	s.alarm = alert.NewAlarm(sink, cfg.Alarm.Enabled)

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		s.store = st
	}

	if cfg.Report.Upload.Enabled {
		up := cfg.Report.Upload
		u, err := storage.NewUploader(storage.Config{
			Endpoint:  up.Endpoint,
			AccessKey: up.AccessKey,
			SecretKey: up.SecretKey,
			UseSSL:    up.UseSSL,
			Bucket:    up.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create uploader: %w", err)
		}
		s.uploader = u
	}

	s.reports = presenter.NewReportWriter(presenter.ReportConfig{
		Dir:     cfg.Report.OutputDir,
		Width:   cfg.Display.Width,
		Height:  cfg.Display.Height,
		Columns: cfg.Pipeline.ReportColumns,
	})
	s.reports.OnWritten = s.onReportWritten

	if err := s.subscribe(); err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		SequenceCount:     cfg.Pipeline.SequenceCount,
		DebounceThreshold: cfg.Pipeline.DebounceThreshold,
		ReportSampleSize:  cfg.Pipeline.ReportSampleSize,
	}, s.classifier, s.alarm, s.bus)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	s.pipeline = p

	slog.Info("sentinel configured",
		"instance_id", cfg.InstanceID,
		"source", cfg.Stream.Source,
		"classifier", cfg.Classifier.Mode,
		"mqtt", cfg.MQTT.Enabled,
		"store", cfg.Store.Enabled,
		"upload", cfg.Report.Upload.Enabled,
		"subscribers", s.bus.Subscribers(),
	)
	return s, nil
}

func buildClassifier(cfg *config.Config) (classifier.Classifier, error) {
	var inner classifier.Classifier
	switch cfg.Classifier.Mode {
	case "subprocess":
		sp, err := classifier.NewSubprocess(classifier.SubprocessConfig{
			WorkerID:   "theft-classifier",
			InstanceID: cfg.InstanceID,
			Command:    cfg.Classifier.Command,
			Args:       cfg.Classifier.Args,
		})
		if err != nil {
			return nil, err
		}
		inner = sp
	case "scripted":
		sc, err := classifier.ParseScript(cfg.Classifier.Script, cfg.Classifier.Loop)
		if err != nil {
			return nil, err
		}
		inner = sc
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Classifier.Mode)
	}
	return classifier.NewBounded(inner, cfg.Classifier.Timeout()), nil
}

// buildSink combines the local output with the remote alarm topic.
func (s *Sentinel) buildSink() (alert.Sink, error) {
	if s.localSink == nil {
		if s.cfg.Alarm.Player != "" {
			cs, err := alarm.NewCommandSink(s.cfg.Alarm.Player, s.cfg.Alarm.PlayerArgs...)
			if err != nil {
				return nil, err
			}
			s.localSink = cs
		} else {
			s.localSink = alarm.LogSink{}
		}
	}

	if s.emitter == nil {
		return s.localSink, nil
	}
	return alarm.MultiSink{s.localSink, alarm.NewRemoteSink(s.emitter)}, nil
}

func (s *Sentinel) subscribe() error {
	type subscription struct {
		id string
		o  pipeline.Observer
	}
	subs := []subscription{
		{"metrics", metrics.Recorder{}},
		{"log", presenter.LogPresenter{Every: uint64(s.cfg.Pipeline.SequenceCount)}},
		{"display", s.display},
		{"report", s.reports},
	}
	if s.store != nil {
		subs = append(subs, subscription{"store", s.store})
	}

	for _, sub := range subs {
		if err := s.bus.Subscribe(sub.id, sub.o); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.id, err)
		}
	}
	if s.emitter != nil {
		if err := s.bus.SubscribeAsync("mqtt", s.emitter, mqttQueueSize); err != nil {
			return fmt.Errorf("subscribe mqtt: %w", err)
		}
	}
	return nil
}

func openSynthetic(cfg config.StreamConfig) (source.Source, error) {
	return source.NewSynthetic(source.SyntheticConfig{
		Name:   "synthetic",
		Width:  cfg.Width,
		Height: cfg.Height,
		FPS:    cfg.FPS,
		Frames: cfg.Frames,
	})
}

// Run connects the control plane and serves until ctx is cancelled or a
// shutdown command arrives.
func (s *Sentinel) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s.runCtx = ctx
	s.cancelCtx = cancel
	s.mu.Unlock()
	defer cancel()

	slog.Info("sentinel service starting", "instance_id", s.cfg.InstanceID)

	if s.uploader != nil {
		if err := s.uploader.EnsureBucket(ctx); err != nil {
			slog.Warn("report bucket unavailable, uploads will fail", "error", err)
		}
	}

	if s.emitter != nil {
		if err := s.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		s.control = control.NewHandler(s.cfg, s.emitter.Client, control.CommandCallbacks{
			OnGetStatus: s.getStatus,
			OnStop:      s.stopStream,
			OnAlarmOn:   func() error { return s.alarm.SetEnabled(true) },
			OnAlarmOff:  func() error { return s.alarm.SetEnabled(false) },
			OnAnalyze:   s.StartAnalysis,
			OnShutdown:  s.shutdownViaControl,
		})
		if err := s.control.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.publishHealth(ctx, 10*time.Second)
		}()
	}

	slog.Info("sentinel service running")

	<-ctx.Done()

	slog.Info("sentinel service run loop exiting")
	return nil
}

// Shutdown stops the active stream and releases every component.
func (s *Sentinel) Shutdown(ctx context.Context) error {
	slog.Info("shutting down sentinel service")

	s.mu.Lock()
	if s.cancelCtx != nil {
		s.cancelCtx()
	}
	s.mu.Unlock()

	// 1. Stop the stream first so the alarm is silenced.
	if err := s.stopStream(); err != nil {
		slog.Error("failed to stop stream", "error", err)
	}

	// 2. Stop control plane
	if s.control != nil {
		if err := s.control.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 3. Wait for goroutines, bounded by ctx
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timeout waiting for goroutines")
	}

	// 4. Drain event subscribers, then disconnect MQTT
	s.bus.Close()
	if s.emitter != nil {
		if err := s.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	if s.health != nil {
		if err := s.health.Shutdown(ctx); err != nil {
			slog.Error("failed to stop health server", "error", err)
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("sentinel service shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (s *Sentinel) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

func (s *Sentinel) publishHealth(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := jsonHealth(s.HealthCheck())
			if err != nil {
				continue
			}
			if err := s.emitter.PublishHealth(payload); err != nil {
				slog.Debug("health not published", "error", err)
			}
		}
	}
}
