package alert

import (
	"fmt"
	"log/slog"
	"sync"
)

// Sink is an alarm output device such as a looping sound.
// Implementations should tolerate Start while started and Stop while stopped,
// but Alarm never relies on that.
type Sink interface {
	Start(loop bool) error
	Stop() error
}

// Liveness is implemented by sinks whose output can end on its own, such as
// a player process that exits.
type Liveness interface {
	Running() bool
}

// Alarm drives a Sink from the alert level. It is level-triggered: the
// pipeline calls Ensure after every window with the current level and Alarm
// issues Start or Stop only when the sink's state actually has to change.
//
// Alarm is safe for concurrent use so a control plane can silence or
// disable it while the pipeline loop is running.
type Alarm struct {
	mu        sync.Mutex
	sink      Sink
	enabled   bool
	playing   bool
	attention bool

	starts uint64
	stops  uint64
}

// NewAlarm wraps sink. A nil sink gives a visual-only alarm.
func NewAlarm(sink Sink, enabled bool) *Alarm {
	return &Alarm{
		sink:    sink,
		enabled: enabled,
	}
}

// Ensure sets the alarm level. Repeating the same level has no effect on the sink.
func (a *Alarm) Ensure(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.attention = on
	if on && a.enabled {
		return a.startLocked()
	}
	return a.stopLocked()
}

// Silence turns everything off immediately (stop command, stream error).
func (a *Alarm) Silence() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.attention = false
	return a.stopLocked()
}

// SetEnabled toggles the audible part. Disabling stops a playing sink;
// enabling while attention is up starts it without waiting for the next window.
func (a *Alarm) SetEnabled(enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.enabled = enabled
	if !enabled {
		return a.stopLocked()
	}
	if a.attention {
		return a.startLocked()
	}
	return nil
}

// Enabled reports whether the audible alarm is enabled.
func (a *Alarm) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Attention reports the visual attention flag.
func (a *Alarm) Attention() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attention
}

// Playing reports whether the sink is believed to be running.
func (a *Alarm) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

// Effects returns how many Start and Stop calls reached the sink.
func (a *Alarm) Effects() (starts, stops uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops
}

func (a *Alarm) startLocked() error {
	if a.sink == nil {
		return nil
	}
	if a.playing {
		l, ok := a.sink.(Liveness)
		if !ok || l.Running() {
			return nil
		}
		slog.Warn("alarm sink stopped on its own, restarting")
		a.playing = false
	}
	if err := a.sink.Start(true); err != nil {
		return fmt.Errorf("alarm start: %w", err)
	}
	a.playing = true
	a.starts++
	slog.Debug("alarm sink started")
	return nil
}

func (a *Alarm) stopLocked() error {
	if !a.playing || a.sink == nil {
		return nil
	}
	// Marked stopped even if Stop fails so the next Ensure(true) retries Start.
	a.playing = false
	a.stops++
	if err := a.sink.Stop(); err != nil {
		return fmt.Errorf("alarm stop: %w", err)
	}
	slog.Debug("alarm sink stopped")
	return nil
}
