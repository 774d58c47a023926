package alert

import (
	"errors"
	"testing"
)

type countingSink struct {
	starts   int
	stops    int
	startErr error
}

func (s *countingSink) Start(loop bool) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	return nil
}

func (s *countingSink) Stop() error {
	s.stops++
	return nil
}

func TestEnsureIsIdempotent(t *testing.T) {
	sink := &countingSink{}
	a := NewAlarm(sink, true)

	a.Ensure(true)
	a.Ensure(true)
	if sink.starts != 1 {
		t.Errorf("starts = %d after two Ensure(true), want 1", sink.starts)
	}

	a.Ensure(false)
	a.Ensure(false)
	if sink.stops != 1 {
		t.Errorf("stops = %d after two Ensure(false), want 1", sink.stops)
	}
}

func TestEnsureOffWhenNeverStarted(t *testing.T) {
	sink := &countingSink{}
	a := NewAlarm(sink, true)

	a.Ensure(false)
	a.Silence()
	if sink.stops != 0 {
		t.Errorf("stops = %d, want 0 when sink never started", sink.stops)
	}
}

// TestResumeAfterExternalSilence covers a stop from outside the loop while
// the level is still on: the next window must start the sink again.
func TestResumeAfterExternalSilence(t *testing.T) {
	sink := &countingSink{}
	a := NewAlarm(sink, true)

	a.Ensure(true)
	a.Silence()
	a.Ensure(true)

	if sink.starts != 2 || sink.stops != 1 {
		t.Errorf("starts=%d stops=%d, want 2 and 1", sink.starts, sink.stops)
	}
	if !a.Playing() || !a.Attention() {
		t.Error("expected alarm playing with attention after resume")
	}
}

func TestDisabledAlarmKeepsAttention(t *testing.T) {
	sink := &countingSink{}
	a := NewAlarm(sink, false)

	a.Ensure(true)
	if sink.starts != 0 {
		t.Errorf("disabled alarm started sink %d times", sink.starts)
	}
	if !a.Attention() {
		t.Error("attention flag should follow the level even when disabled")
	}

	if err := a.SetEnabled(true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if sink.starts != 1 {
		t.Errorf("enabling during attention: starts = %d, want 1", sink.starts)
	}

	a.SetEnabled(false)
	if sink.stops != 1 || a.Playing() {
		t.Errorf("disabling: stops=%d playing=%v", sink.stops, a.Playing())
	}
}

func TestStartFailureRetried(t *testing.T) {
	sink := &countingSink{startErr: errors.New("no audio device")}
	a := NewAlarm(sink, true)

	if err := a.Ensure(true); err == nil {
		t.Fatal("expected start error")
	}
	if a.Playing() {
		t.Fatal("failed start must not mark alarm playing")
	}

	sink.startErr = nil
	if err := a.Ensure(true); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if sink.starts != 1 {
		t.Errorf("starts = %d, want 1", sink.starts)
	}
}

func TestNilSink(t *testing.T) {
	a := NewAlarm(nil, true)
	if err := a.Ensure(true); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if a.Playing() {
		t.Error("nil sink cannot be playing")
	}
	if !a.Attention() {
		t.Error("attention should still be raised")
	}
}

// livenessSink reports running until dead is set, like a player process
// that exits after a bad file.
type livenessSink struct {
	countingSink
	dead bool
}

func (s *livenessSink) Start(loop bool) error {
	s.dead = false
	return s.countingSink.Start(loop)
}

func (s *livenessSink) Running() bool { return !s.dead }

func TestEnsureRestartsDeadSink(t *testing.T) {
	sink := &livenessSink{}
	a := NewAlarm(sink, true)

	a.Ensure(true)
	a.Ensure(true)
	if sink.starts != 1 {
		t.Fatalf("starts = %d while running, want 1", sink.starts)
	}

	sink.dead = true
	if err := a.Ensure(true); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sink.starts != 2 {
		t.Errorf("starts = %d after the sink died, want 2", sink.starts)
	}
	if !a.Playing() {
		t.Error("Expected playing after restart")
	}
	if starts, _ := a.Effects(); starts != 2 {
		t.Errorf("Effects starts = %d, want 2", starts)
	}

	a.Ensure(false)
	if sink.stops != 1 {
		t.Errorf("stops = %d, want 1", sink.stops)
	}
}
