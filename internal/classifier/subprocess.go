/*
SUBPROCESS CLASSIFIER

Runs the behaviour model in a child process and talks to it over pipes.

	┌──────────┐  window (msgpack)  ┌────────────┐  stdin   ┌──────────────┐
	│ pipeline │ ─────────────────> │ Subprocess │ ───────> │ model runner │
	└──────────┘                    └────────────┘          └──────────────┘
	      ^                               ^      stdout           │
	      └──── ClassificationResult ─────┴───────────────────────┘

FRAMING: every message is a 4 byte big-endian length followed by a msgpack
map. Requests carry the window index and the runner echoes it back, so a
late answer to a window that already timed out is recognised and dropped
instead of being attributed to the next window.

GOROUTINES:
  readResults  - decodes responses from stdout into the replies channel
  logStderr    - maps runner log lines onto slog levels
  waitProcess  - reaps the process once stdout is drained

One window is in flight at a time. Classify holds a mutex for the whole
round trip, matching the single-loop pipeline.
*/

package classifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/sentinel/internal/types"
)

// ErrWorkerExited is returned when the model runner is gone.
var ErrWorkerExited = errors.New("model runner exited")

// SubprocessConfig configures the model runner process.
type SubprocessConfig struct {
	WorkerID   string
	InstanceID string
	Command    string
	Args       []string
	// Env replaces the child environment when non-nil
	Env []string
	// WriteTimeout bounds a single stdin write (default 2s)
	WriteTimeout time.Duration
	// StopTimeout is how long Stop waits before killing (default 2s)
	StopTimeout time.Duration
}

// WorkerMetrics is a snapshot of the runner's health.
type WorkerMetrics struct {
	WindowsSent     uint64
	ResultsReceived uint64
	StaleDropped    uint64
	AvgLatencyMS    float64
	LastSeenAt      time.Time
}

// Subprocess is a Classifier backed by an external model runner.
type Subprocess struct {
	cfg SubprocessConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	replies chan response
	exited  chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool
	mu       sync.Mutex

	windowsSent     atomic.Uint64
	resultsReceived atomic.Uint64
	staleDropped    atomic.Uint64
	totalLatencyMS  atomic.Uint64
	lastSeenAt      atomic.Value // time.Time
}

// NewSubprocess validates cfg. The process is spawned by Start.
func NewSubprocess(cfg SubprocessConfig) (*Subprocess, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("classifier command is required")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "classifier"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}

	slog.Info("subprocess classifier created",
		"worker_id", cfg.WorkerID,
		"command", cfg.Command,
		"args", cfg.Args,
	)

	return &Subprocess{cfg: cfg}, nil
}

// ID returns the worker ID.
func (s *Subprocess) ID() string {
	return s.cfg.WorkerID
}

// Start spawns the model runner.
func (s *Subprocess) Start(ctx context.Context) error {
	if s.isActive.Load() {
		return fmt.Errorf("classifier already started")
	}

	s.replies = make(chan response, 1)
	s.exited = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.spawn(); err != nil {
		s.cancel()
		return fmt.Errorf("failed to spawn model runner: %w", err)
	}

	s.isActive.Store(true)
	s.lastSeenAt.Store(time.Now())

	slog.Info("subprocess classifier started",
		"worker_id", s.cfg.WorkerID,
		"pid", s.cmd.Process.Pid,
	)
	return nil
}

func (s *Subprocess) spawn() error {
	s.cmd = exec.CommandContext(s.ctx, s.cfg.Command, s.cfg.Args...)
	if s.cfg.Env != nil {
		s.cmd.Env = s.cfg.Env
	}

	var err error
	if s.stdin, err = s.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if s.stdout, err = s.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if s.stderr, err = s.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	readDone := make(chan struct{})

	s.wg.Add(3)
	go s.readResults(readDone)
	go s.logStderr()
	go s.waitProcess(readDone)

	return nil
}

// Classify sends window to the runner and waits for its answer.
func (s *Subprocess) Classify(ctx context.Context, window types.Window) (types.ClassificationResult, error) {
	if !s.isActive.Load() {
		return types.ClassificationResult{}, &InferenceError{Window: window.Index, Err: ErrNotStarted}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.send(ctx, window); err != nil {
		return types.ClassificationResult{}, &InferenceError{Window: window.Index, Err: err}
	}
	s.windowsSent.Add(1)

	for {
		select {
		case resp := <-s.replies:
			if resp.Window != window.Index {
				// Answer to a window that already timed out.
				s.staleDropped.Add(1)
				slog.Warn("dropping stale classifier response",
					"worker_id", s.cfg.WorkerID,
					"response_window", resp.Window,
					"window", window.Index,
				)
				continue
			}
			return s.decode(window, resp, time.Since(start))

		case <-s.exited:
			return types.ClassificationResult{}, &InferenceError{Window: window.Index, Err: ErrWorkerExited}

		case <-ctx.Done():
			return types.ClassificationResult{}, &InferenceError{Window: window.Index, Err: ctx.Err()}
		}
	}
}

func (s *Subprocess) decode(window types.Window, resp response, elapsed time.Duration) (types.ClassificationResult, error) {
	if resp.Error != "" {
		return types.ClassificationResult{}, &InferenceError{
			Window: window.Index,
			Err:    fmt.Errorf("model runner: %s", resp.Error),
		}
	}

	result, err := types.NewResult(resp.Probabilities)
	if err != nil {
		return types.ClassificationResult{}, &InferenceError{
			Window: window.Index,
			Err:    fmt.Errorf("malformed response: %w", err),
		}
	}
	result.Latency = elapsed

	s.resultsReceived.Add(1)
	s.totalLatencyMS.Add(uint64(elapsed.Milliseconds()))
	s.lastSeenAt.Store(time.Now())

	slog.Debug("window classified",
		"worker_id", s.cfg.WorkerID,
		"window", window.Index,
		"label", result.Label().String(),
		"runner_ms", resp.Timing.TotalMS,
		"latency_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// send writes the request with a timeout so a hung runner cannot block the pipeline.
func (s *Subprocess) send(ctx context.Context, window types.Window) error {
	req := request{
		Window: window.Index,
		Frames: make([][]byte, len(window.Frames)),
		Meta: requestMeta{
			InstanceID: s.cfg.InstanceID,
			FirstSeq:   window.FirstSeq(),
			LastSeq:    window.LastSeq(),
		},
	}
	if len(window.Frames) > 0 {
		first := window.Frames[0]
		req.Width = first.Width
		req.Height = first.Height
		req.Format = string(first.Format)
		req.Meta.TraceID = first.TraceID
	}
	for i, f := range window.Frames {
		req.Frames[i] = f.Data
	}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeMessage(s.stdin, req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("failed to write to stdin: %w", err)
		}
		return nil
	case <-time.After(s.cfg.WriteTimeout):
		return fmt.Errorf("stdin write timeout (model runner may be hung)")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subprocess) readResults(done chan<- struct{}) {
	defer s.wg.Done()
	defer close(done)

	for {
		var resp response
		if err := readMessage(s.stdout, &resp); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("model runner stdout closed", "worker_id", s.cfg.WorkerID)
			} else {
				slog.Error("failed to read from model runner",
					"worker_id", s.cfg.WorkerID,
					"error", err,
				)
			}
			return
		}

		select {
		case s.replies <- resp:
		case <-s.ctx.Done():
			return
		}
	}
}

// logStderr maps runner log levels onto slog.
func (s *Subprocess) logStderr() {
	defer s.wg.Done()

	scanner := bufio.NewScanner(s.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("model runner error", "worker_id", s.cfg.WorkerID, "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("model runner warning", "worker_id", s.cfg.WorkerID, "log", line)
		default:
			slog.Debug("model runner log", "worker_id", s.cfg.WorkerID, "log", line)
		}
	}
}

// waitProcess reaps the child after stdout has been drained.
func (s *Subprocess) waitProcess(readDone <-chan struct{}) {
	defer s.wg.Done()
	defer close(s.exited)

	<-readDone
	err := s.cmd.Wait()

	switch {
	case err == nil:
		slog.Info("model runner exited cleanly",
			"worker_id", s.cfg.WorkerID,
			"pid", s.cmd.Process.Pid,
		)
	case s.ctx.Err() != nil:
		slog.Debug("model runner exited (shutdown)",
			"worker_id", s.cfg.WorkerID,
			"pid", s.cmd.Process.Pid,
		)
	default:
		slog.Error("model runner exited unexpectedly",
			"worker_id", s.cfg.WorkerID,
			"pid", s.cmd.Process.Pid,
			"error", err,
		)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Metrics returns a snapshot of runner health.
func (s *Subprocess) Metrics() WorkerMetrics {
	received := s.resultsReceived.Load()

	var avg float64
	if received > 0 {
		avg = float64(s.totalLatencyMS.Load()) / float64(received)
	}

	var lastSeen time.Time
	if v := s.lastSeenAt.Load(); v != nil {
		lastSeen = v.(time.Time)
	}

	return WorkerMetrics{
		WindowsSent:     s.windowsSent.Load(),
		ResultsReceived: received,
		StaleDropped:    s.staleDropped.Load(),
		AvgLatencyMS:    avg,
		LastSeenAt:      lastSeen,
	}
}

// Stop closes stdin so the runner can exit on its own, then kills it
// if it has not gone within StopTimeout.
func (s *Subprocess) Stop() error {
	if !s.isActive.Swap(false) {
		return nil
	}

	slog.Info("stopping subprocess classifier", "worker_id", s.cfg.WorkerID)

	if s.stdin != nil {
		s.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		slog.Warn("model runner stop timeout, killing process", "worker_id", s.cfg.WorkerID)
		// Cancelling unblocks readResults and kills via CommandContext.
		s.cancel()
		if s.cmd != nil && s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				slog.Error("failed to kill model runner", "worker_id", s.cfg.WorkerID, "error", err)
			}
		}
		<-done
	}
	s.cancel()

	m := s.Metrics()
	slog.Info("subprocess classifier stopped",
		"worker_id", s.cfg.WorkerID,
		"windows_sent", m.WindowsSent,
		"results", m.ResultsReceived,
		"stale_dropped", m.StaleDropped,
	)
	return nil
}
