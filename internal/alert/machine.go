// Package alert turns per-window classifications into a debounced alarm.
//
// The Machine counts consecutive Theft windows. Reaching the threshold
// enters Alarmed; any non-Theft window drops straight back to Idle.
// Debounce applies only on the way up.
//
//	Idle --Theft--> Suspicious(1) --Theft--> Suspicious(2) --Theft--> Alarmed
//	  ^                  |                         |                     |
//	  +------Normal------+-----------Normal--------+--------Normal-------+
//
// While Alarmed, every Theft window's frames are appended to the flagged
// set used for the end-of-stream report.
package alert

import (
	"errors"

	"github.com/care/sentinel/internal/types"
)

// DefaultThreshold is the number of consecutive Theft windows needed to alarm.
const DefaultThreshold = 3

// ErrInvalidThreshold is returned by NewMachine for a non-positive threshold.
var ErrInvalidThreshold = errors.New("alert: debounce threshold must be > 0")

// State is the alert level.
type State int

const (
	// Idle means the last window was not Theft (or nothing classified yet)
	Idle State = iota
	// Suspicious means 1..threshold-1 consecutive Theft windows
	Suspicious
	// Alarmed means at least threshold consecutive Theft windows
	Alarmed
)

func (s State) String() string {
	switch s {
	case Suspicious:
		return "suspicious"
	case Alarmed:
		return "alarmed"
	default:
		return "idle"
	}
}

// Transition describes what one window did to the machine.
type Transition struct {
	Window   int
	Label    types.Label
	Previous State
	Current  State
	// Count is the consecutive Theft count after this window
	Count int
	// Raised is true on the window that first reaches Alarmed
	Raised bool
	// Cleared is true on the window that leaves Alarmed
	Cleared bool
	// Flagged is how many frames this window added to the flagged set
	Flagged int
}

// Machine is the debounce state machine. Owned by one pipeline loop.
type Machine struct {
	threshold int
	count     int
	state     State
	flagged   []types.Frame
}

// NewMachine creates a machine that alarms after threshold consecutive Theft windows.
func NewMachine(threshold int) (*Machine, error) {
	if threshold <= 0 {
		return nil, ErrInvalidThreshold
	}
	return &Machine{threshold: threshold}, nil
}

// Apply feeds one window's classification. Results must arrive in window order.
func (m *Machine) Apply(window types.Window, result types.ClassificationResult) Transition {
	tr := Transition{
		Window:   window.Index,
		Label:    result.Label(),
		Previous: m.state,
	}

	if tr.Label == types.LabelTheft {
		m.count++
		if m.count >= m.threshold {
			m.state = Alarmed
			m.flagged = append(m.flagged, window.Frames...)
			tr.Flagged = len(window.Frames)
		} else {
			m.state = Suspicious
		}
	} else {
		m.count = 0
		m.state = Idle
	}

	tr.Current = m.state
	tr.Count = m.count
	tr.Raised = tr.Previous != Alarmed && tr.Current == Alarmed
	tr.Cleared = tr.Previous == Alarmed && tr.Current != Alarmed

	return tr
}

// State returns the current alert level.
func (m *Machine) State() State {
	return m.state
}

// Count returns the consecutive Theft count.
func (m *Machine) Count() int {
	return m.count
}

// Threshold returns the configured debounce threshold.
func (m *Machine) Threshold() int {
	return m.threshold
}

// Alarmed reports whether the machine is currently in the Alarmed state.
func (m *Machine) Alarmed() bool {
	return m.state == Alarmed
}

// Flagged returns the frames collected while alarmed, in stream order.
// The slice is owned by the machine until Reset.
func (m *Machine) Flagged() []types.Frame {
	return m.flagged
}

// Reset returns to Idle and drops the flagged set, ready for a new stream.
func (m *Machine) Reset() {
	m.count = 0
	m.state = Idle
	m.flagged = nil
}
