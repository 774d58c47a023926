package types

import (
	"fmt"
	"math"
	"time"
)

// Label is the closed set of classifier outcomes plus the placeholder shown
// before the first window of a stream has been classified.
type Label int

const (
	// LabelPending means no window has been classified yet
	LabelPending Label = iota
	// LabelNormal is a non-theft classification
	LabelNormal
	// LabelTheft is the positive classification
	LabelTheft
)

// String returns the display text for the label
func (l Label) String() string {
	switch l {
	case LabelNormal:
		return "Normal"
	case LabelTheft:
		return "Theft"
	default:
		return "Detecting..."
	}
}

// MarshalText implements encoding.TextMarshaler
func (l Label) MarshalText() ([]byte, error) {
	switch l {
	case LabelNormal:
		return []byte("normal"), nil
	case LabelTheft:
		return []byte("theft"), nil
	default:
		return []byte("pending"), nil
	}
}

// ParseLabel converts a label name (normal/theft, or N/T shorthand) into a Label
func ParseLabel(s string) (Label, error) {
	switch s {
	case "normal", "Normal", "N":
		return LabelNormal, nil
	case "theft", "Theft", "T":
		return LabelTheft, nil
	default:
		return LabelPending, fmt.Errorf("unknown label %q", s)
	}
}

// Class indices inside ClassificationResult.Probabilities
const (
	ClassNormal = 0
	ClassTheft  = 1
	NumClasses  = 2
)

// ClassificationResult is the probability vector produced for one window.
type ClassificationResult struct {
	// Probabilities is [P(Normal), P(Theft)], expected to sum to 1.0
	Probabilities [NumClasses]float64
	// Latency is how long the classifier took
	Latency time.Duration
}

// NewResult builds a result from a slice as returned by a model runner.
func NewResult(probs []float64) (ClassificationResult, error) {
	var r ClassificationResult
	if len(probs) != NumClasses {
		return r, fmt.Errorf("expected %d probabilities, got %d", NumClasses, len(probs))
	}
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return r, fmt.Errorf("invalid probability %v at index %d", p, i)
		}
		r.Probabilities[i] = p
	}
	return r, nil
}

// Normal returns P(Normal)
func (r ClassificationResult) Normal() float64 {
	return r.Probabilities[ClassNormal]
}

// Theft returns P(Theft)
func (r ClassificationResult) Theft() float64 {
	return r.Probabilities[ClassTheft]
}

// Label returns the argmax label. Theft requires a strictly greater
// probability; ties resolve to Normal.
func (r ClassificationResult) Label() Label {
	if r.Theft() > r.Normal() {
		return LabelTheft
	}
	return LabelNormal
}

// FormatPercent renders a probability the way the operator display shows it
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}
