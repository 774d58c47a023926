// Package alarm provides the output devices behind alert.Sink.
package alarm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// CommandSink plays the alarm through an external player process such as
// `ffplay -nodisp -loglevel quiet -loop 0 assets/alarm.mp3`. Stop kills the
// player. Looping is the player's job and is expressed in its arguments.
type CommandSink struct {
	command string
	args    []string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewCommandSink creates a sink for command.
func NewCommandSink(command string, args ...string) (*CommandSink, error) {
	if command == "" {
		return nil, fmt.Errorf("alarm player command is required")
	}
	return &CommandSink{command: command, args: args}, nil
}

// Start launches the player unless it is already running.
func (s *CommandSink) Start(loop bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running() {
		return nil
	}

	cmd := exec.Command(s.command, s.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start alarm player: %w", err)
	}

	done := make(chan struct{})
	go func() {
		// Reap the player; a non-looping player exits on its own.
		if err := cmd.Wait(); err != nil {
			slog.Debug("alarm player exited", "pid", cmd.Process.Pid, "error", err)
		}
		close(done)
	}()

	s.cmd = cmd
	s.done = done

	slog.Info("alarm player started", "command", s.command, "pid", cmd.Process.Pid, "loop", loop)
	return nil
}

// Stop kills the player if it is running.
func (s *CommandSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running() {
		s.cmd = nil
		return nil
	}

	pid := s.cmd.Process.Pid
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop alarm player: %w", err)
	}

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		slog.Warn("alarm player did not exit after kill", "pid", pid)
	}
	s.cmd = nil

	slog.Info("alarm player stopped", "pid", pid)
	return nil
}

// Running reports whether the player process is alive.
func (s *CommandSink) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running()
}

func (s *CommandSink) running() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// LogSink writes alarm transitions to the log. It is the sink used when no
// player is configured.
type LogSink struct{}

// Start logs the alarm.
func (LogSink) Start(loop bool) error {
	slog.Warn("ALARM ON: attention, theft behavior has been detected", "loop", loop)
	return nil
}

// Stop logs the alarm ending.
func (LogSink) Stop() error {
	slog.Info("alarm off")
	return nil
}

// Publisher publishes the alarm level to remote listeners.
type Publisher interface {
	PublishAlarm(on bool) error
}

// RemoteSink mirrors the alarm level to a Publisher, e.g. a retained MQTT
// topic a siren controller subscribes to.
type RemoteSink struct {
	pub Publisher
}

// NewRemoteSink wraps pub.
func NewRemoteSink(pub Publisher) *RemoteSink {
	return &RemoteSink{pub: pub}
}

// Start publishes the on level.
func (s *RemoteSink) Start(bool) error {
	return s.pub.PublishAlarm(true)
}

// Stop publishes the off level.
func (s *RemoteSink) Stop() error {
	return s.pub.PublishAlarm(false)
}

// Sink matches alert.Sink without importing it.
type Sink interface {
	Start(loop bool) error
	Stop() error
}

// MultiSink drives several sinks together. Every sink is attempted even
// when an earlier one fails.
type MultiSink []Sink

// Start starts every sink.
func (m MultiSink) Start(loop bool) error {
	var errs []error
	for _, s := range m {
		if err := s.Start(loop); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running is false when any sink that reports liveness has stopped.
func (m MultiSink) Running() bool {
	for _, s := range m {
		if l, ok := s.(interface{ Running() bool }); ok && !l.Running() {
			return false
		}
	}
	return true
}

// Stop stops every sink.
func (m MultiSink) Stop() error {
	var errs []error
	for _, s := range m {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
