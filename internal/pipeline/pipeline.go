// Package pipeline drives one stream through the theft detector:
//
//	Source → sequence.Buffer → Classifier → alert.Machine → report.Sample
//
// A single goroutine owns every piece of per-stream state. Classification
// blocks the loop, so windows are evaluated strictly in order and the
// debounce count always sees consecutive windows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/care/sentinel/internal/alert"
	"github.com/care/sentinel/internal/classifier"
	"github.com/care/sentinel/internal/report"
	"github.com/care/sentinel/internal/sequence"
	"github.com/care/sentinel/internal/source"
	"github.com/care/sentinel/internal/types"
)

// Config holds the per-stream constants.
type Config struct {
	SequenceCount     int
	DebounceThreshold int
	ReportSampleSize  int
}

// DefaultConfig is 30 frame windows, 3 window debounce, 6 frame report.
func DefaultConfig() Config {
	return Config{
		SequenceCount:     30,
		DebounceThreshold: alert.DefaultThreshold,
		ReportSampleSize:  report.DefaultSampleSize,
	}
}

// Result summarises a stream. It is returned even when Run fails, holding
// whatever was processed before the failure.
type Result struct {
	StreamID string
	Frames   uint64
	Windows  int
	// Discarded is the size of the trailing partial window
	Discarded int
	// AlarmEpisodes counts Idle/Suspicious → Alarmed transitions
	AlarmEpisodes int
	// Flagged is the number of frames collected for the report
	Flagged int
	// Report is empty unless the stream ended normally with flagged frames
	Report  types.ReportSample
	Latency LatencyStats
	Started time.Time
	Ended   time.Time
}

// Pipeline runs streams with a fixed classifier and alarm. Run may be called
// again for the next stream once the previous call returned.
type Pipeline struct {
	cfg        Config
	classifier classifier.Classifier
	alarm      *alert.Alarm
	observer   Observer
}

// New validates cfg. A nil alarm or observer is allowed.
func New(cfg Config, c classifier.Classifier, alarm *alert.Alarm, observer Observer) (*Pipeline, error) {
	if c == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.ReportSampleSize <= 0 {
		return nil, fmt.Errorf("report sample size must be > 0")
	}
	if _, err := sequence.New(cfg.SequenceCount); err != nil {
		return nil, err
	}
	if _, err := alert.NewMachine(cfg.DebounceThreshold); err != nil {
		return nil, err
	}
	if alarm == nil {
		alarm = alert.NewAlarm(nil, false)
	}
	if observer == nil {
		observer = ObserverFunc(func(Event) {})
	}

	return &Pipeline{
		cfg:        cfg,
		classifier: c,
		alarm:      alarm,
		observer:   observer,
	}, nil
}

// Alarm returns the alarm driven by this pipeline.
func (p *Pipeline) Alarm() *alert.Alarm {
	return p.alarm
}

// run holds the state of one stream.
type run struct {
	p        *Pipeline
	id       string
	buffer   *sequence.Buffer
	machine  *alert.Machine
	latency  latencyRecorder
	result   *Result
	label    types.Label
	lastProb types.ClassificationResult
}

// Run consumes src until end of stream, failure or cancellation.
//
// At end of stream the partial window is discarded, the alarm is silenced
// and ReportReady is emitted. A classifier failure returns a
// *classifier.InferenceError and a source failure a *source.Error; both
// silence the alarm and emit no report. Cancellation returns ctx.Err()
// after silencing the alarm. Run does not close src.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (*Result, error) {
	return p.RunStream(ctx, uuid.New().String(), src)
}

// RunStream is Run with a caller-chosen stream ID.
func (p *Pipeline) RunStream(ctx context.Context, streamID string, src source.Source) (*Result, error) {
	buffer, _ := sequence.New(p.cfg.SequenceCount)
	machine, _ := alert.NewMachine(p.cfg.DebounceThreshold)

	r := &run{
		p:       p,
		id:      streamID,
		buffer:  buffer,
		machine: machine,
		result:  &Result{StreamID: streamID, Started: time.Now()},
		label:   types.LabelPending,
	}

	slog.Info("stream started",
		"stream_id", streamID,
		"sequence_count", p.cfg.SequenceCount,
		"debounce_threshold", p.cfg.DebounceThreshold,
	)

	err := r.loop(ctx, src)
	return r.finish(err)
}

func (r *run) loop(ctx context.Context, src source.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if source.IsEOF(err) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var se *source.Error
			if !errors.As(err, &se) {
				err = &source.Error{Source: r.id, Seq: r.result.Frames, Err: err}
			}
			return err
		}
		r.result.Frames++

		position := r.buffer.Len() + 1
		if window, ok := r.buffer.Push(frame); ok {
			if err := r.evaluate(ctx, window); err != nil {
				return err
			}
		}

		r.p.observer.OnEvent(r.display(frame, position))
	}
}

// evaluate classifies a full window and applies it to the alert state.
func (r *run) evaluate(ctx context.Context, window types.Window) error {
	result, err := r.p.classifier.Classify(ctx, window)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return ctx.Err()
		}
		var ie *classifier.InferenceError
		if !errors.As(err, &ie) {
			err = &classifier.InferenceError{Window: window.Index, Err: err}
		}
		return err
	}

	tr := r.machine.Apply(window, result)
	r.result.Windows++
	r.latency.observe(result.Latency)
	r.label = tr.Label
	r.lastProb = result

	if err := r.p.alarm.Ensure(r.machine.Alarmed()); err != nil {
		// Output device trouble must not stop detection.
		slog.Warn("alarm output failed", "stream_id", r.id, "window", window.Index, "error", err)
	}

	slog.Debug("window evaluated",
		"stream_id", r.id,
		"window", window.Index,
		"label", tr.Label.String(),
		"theft", types.FormatPercent(result.Theft()),
		"count", tr.Count,
		"state", tr.Current.String(),
	)

	r.p.observer.OnEvent(WindowClassified{
		StreamID:   r.id,
		FirstSeq:   window.FirstSeq(),
		LastSeq:    window.LastSeq(),
		Result:     result,
		Transition: tr,
	})

	if tr.Raised {
		r.result.AlarmEpisodes++
		slog.Warn("attention, theft behavior has been detected",
			"stream_id", r.id,
			"window", window.Index,
			"count", tr.Count,
		)
		r.p.observer.OnEvent(AlarmRaised{StreamID: r.id, Window: window.Index, Count: tr.Count})
	}
	if tr.Cleared {
		slog.Info("alarm cleared", "stream_id", r.id, "window", window.Index)
		r.p.observer.OnEvent(AlarmCleared{StreamID: r.id, Window: window.Index})
	}
	return nil
}

func (r *run) display(frame types.Frame, position int) FrameDisplayed {
	ev := FrameDisplayed{
		StreamID:  r.id,
		Frame:     frame,
		Position:  position,
		Label:     r.label,
		NormalPct: Waiting,
		TheftPct:  Waiting,
		Attention: r.machine.Alarmed(),
	}
	if r.label != types.LabelPending {
		ev.NormalPct = types.FormatPercent(r.lastProb.Normal())
		ev.TheftPct = types.FormatPercent(r.lastProb.Theft())
	}
	return ev
}

// finish releases per-stream state. Every exit path silences the alarm, and
// a failed or cancelled stream that was Alarmed also emits AlarmCleared.
func (r *run) finish(err error) (*Result, error) {
	res := r.result
	res.Discarded = r.buffer.Discard()
	res.Flagged = len(r.machine.Flagged())
	res.Latency = r.latency.summary()
	res.Ended = time.Now()

	if serr := r.p.alarm.Silence(); serr != nil {
		slog.Warn("failed to silence alarm", "stream_id", r.id, "error", serr)
	}

	if err != nil {
		if r.machine.Alarmed() {
			// The episode ends with the stream; nothing else will clear it.
			r.p.observer.OnEvent(AlarmCleared{StreamID: r.id, Window: r.result.Windows - 1})
		}
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelInfo
		}
		slog.Log(context.Background(), level, "stream stopped",
			"stream_id", r.id,
			"frames", res.Frames,
			"windows", res.Windows,
			"discarded", res.Discarded,
			"error", err,
		)
		return res, err
	}

	res.Report = report.Sample(r.machine.Flagged(), r.p.cfg.ReportSampleSize)
	r.p.observer.OnEvent(ReportReady{StreamID: r.id, Sample: res.Report, Total: res.Flagged})

	slog.Info("stream finished",
		"stream_id", r.id,
		"frames", res.Frames,
		"windows", res.Windows,
		"discarded", res.Discarded,
		"alarm_episodes", res.AlarmEpisodes,
		"flagged", res.Flagged,
		"latency_mean_ms", res.Latency.Mean.Milliseconds(),
		"latency_p95_ms", res.Latency.P95.Milliseconds(),
	)
	return res, nil
}
