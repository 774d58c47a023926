package pipeline

import (
	"github.com/care/sentinel/internal/alert"
	"github.com/care/sentinel/internal/types"
)

// Event is something the presentation layer may want to show. The pipeline
// only emits events; it never draws.
type Event interface {
	// Kind is a short stable name used for topics and logs
	Kind() string
}

// Observer receives events synchronously from the pipeline loop.
// Implementations must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Waiting is shown in place of percentages before the first window.
const Waiting = "Waiting..."

// FrameDisplayed is emitted once per consumed frame, after any
// classification that frame triggered.
type FrameDisplayed struct {
	StreamID string
	Frame    types.Frame
	// Position is the frame's 1-based place in the current window;
	// the frame that completes a window shows the window size.
	Position int
	Label    types.Label
	// NormalPct and TheftPct are the latest percentages ("12.34%") or Waiting
	NormalPct string
	TheftPct  string
	// Attention is true while the alert is Alarmed
	Attention bool
}

// WindowClassified is emitted after each window has been classified and
// applied to the alert state.
type WindowClassified struct {
	StreamID   string
	FirstSeq   uint64
	LastSeq    uint64
	Result     types.ClassificationResult
	Transition alert.Transition
}

// AlarmRaised is emitted on the window where the alert becomes Alarmed.
type AlarmRaised struct {
	StreamID string
	Window   int
	Count    int
}

// AlarmCleared is emitted on the window where the alert leaves Alarmed, or
// when a stream stops while Alarmed (Window is then the last evaluated one).
type AlarmCleared struct {
	StreamID string
	Window   int
}

// ReportReady is emitted once at normal end of stream. Sample is empty when
// nothing was flagged.
type ReportReady struct {
	StreamID string
	Sample   types.ReportSample
	// Total is the size of the flagged set
	Total int
}

func (FrameDisplayed) Kind() string   { return "frame" }
func (WindowClassified) Kind() string { return "window" }
func (AlarmRaised) Kind() string      { return "alarm_raised" }
func (AlarmCleared) Kind() string     { return "alarm_cleared" }
func (ReportReady) Kind() string      { return "report" }
