package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/care/sentinel/internal/classifier"
	"github.com/care/sentinel/internal/metrics"
	"github.com/care/sentinel/internal/pipeline"
	"github.com/care/sentinel/internal/source"
	"github.com/care/sentinel/internal/store"
)

const uploadTimeout = 60 * time.Second

// Analyze runs one stream to completion. path overrides stream.path; it is
// ignored by the synthetic source. Only one stream runs at a time.
func (s *Sentinel) Analyze(ctx context.Context, path string) (*pipeline.Result, error) {
	run, ctx, err := s.acquire(ctx, path)
	if err != nil {
		return nil, err
	}
	defer s.release(run)

	return s.analyze(ctx, run)
}

// StartAnalysis runs a stream in the background and returns its ID.
func (s *Sentinel) StartAnalysis(path string) (string, error) {
	s.mu.RLock()
	parent := s.runCtx
	s.mu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}

	run, ctx, err := s.acquire(parent, path)
	if err != nil {
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(run)
		s.analyze(ctx, run)
	}()
	return run.id, nil
}

func (s *Sentinel) acquire(ctx context.Context, path string) (*activeStream, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, nil, ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	run := &activeStream{
		id:     uuid.New().String(),
		path:   path,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active = run
	return run, ctx, nil
}

func (s *Sentinel) release(run *activeStream) {
	run.cancel()

	s.mu.Lock()
	if s.active == run {
		s.active = nil
	}
	s.mu.Unlock()

	close(run.done)
}

func (s *Sentinel) analyze(ctx context.Context, run *activeStream) (*pipeline.Result, error) {
	cfg := s.cfg.Stream
	if run.path != "" {
		cfg.Path = run.path
	}

	open, ok := s.openers[cfg.Source]
	if !ok {
		return nil, fmt.Errorf("unsupported stream source %q", cfg.Source)
	}
	src, err := open(cfg)
	if err != nil {
		return nil, &source.Error{Source: cfg.Source, Err: err}
	}
	defer src.Close()

	// The classifier is acquired per stream and released afterwards.
	if lc, ok := s.classifier.(classifier.Lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			return nil, &classifier.InferenceError{Window: 0, Err: err}
		}
		defer func() {
			if err := lc.Stop(); err != nil {
				slog.Warn("failed to stop classifier", "error", err)
			}
		}()
	}

	if s.store != nil {
		if err := s.store.StartStream(context.Background(), run.id, describeSource(cfg.Source, cfg.Path), time.Now()); err != nil {
			slog.Warn("failed to record stream start", "stream_id", run.id, "error", err)
		}
	}

	slog.Info("analysis started", "stream_id", run.id, "source", cfg.Source, "path", cfg.Path)
	metrics.StreamStarted()

	res, err := s.pipeline.RunStream(ctx, run.id, src)

	outcome := outcomeOf(err)
	metrics.StreamFinished(outcome)
	if err != nil {
		s.reports.Forget(run.id)
	}

	if s.store != nil {
		if serr := s.store.FinishStream(context.Background(), res, outcome, err); serr != nil {
			slog.Warn("failed to record stream end", "stream_id", run.id, "error", serr)
		}
	}

	s.mu.Lock()
	s.lastResult = res
	s.lastErr = err
	s.mu.Unlock()

	return res, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return store.OutcomeCompleted
	case errors.Is(err, context.Canceled):
		return store.OutcomeCanceled
	default:
		return store.OutcomeFailed
	}
}

func describeSource(kind, path string) string {
	if path == "" {
		return kind
	}
	return kind + ":" + path
}

// stopStream silences the alarm, cancels the active stream and waits for it
// to unwind.
func (s *Sentinel) stopStream() error {
	s.mu.RLock()
	run := s.active
	s.mu.RUnlock()

	if run != nil {
		slog.Info("stopping stream", "stream_id", run.id)
		run.cancel()
		if err := s.alarm.Silence(); err != nil {
			slog.Warn("failed to silence alarm", "stream_id", run.id, "error", err)
		}
		select {
		case <-run.done:
		case <-time.After(s.cfg.ShutdownTimeout()):
			slog.Warn("stream did not stop in time", "stream_id", run.id)
		}
	}
	// The loop may have re-asserted the level before it saw the cancel.
	return s.alarm.Silence()
}

func (s *Sentinel) onReportWritten(streamID, dir string) {
	if s.store != nil {
		if err := s.store.SetReportDir(context.Background(), streamID, dir); err != nil {
			slog.Warn("failed to record report dir", "stream_id", streamID, "error", err)
		}
	}
	if s.uploader == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	prefix := s.cfg.InstanceID + "/" + streamID
	if _, err := s.uploader.UploadDir(ctx, prefix, dir); err != nil {
		slog.Error("failed to upload report", "stream_id", streamID, "error", err)
	}
}
