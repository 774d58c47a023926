package types

// SampledFrame is one frame picked for the end-of-stream report
type SampledFrame struct {
	// Position is the 1-based index of the frame inside the flagged set
	Position int
	Frame    Frame
}

// ReportSample is the small, evenly spaced selection of flagged frames
type ReportSample struct {
	Frames []SampledFrame
	// Total is the size of the flagged set the sample was drawn from
	Total int
}

// Empty reports whether there is nothing to show
func (s ReportSample) Empty() bool {
	return len(s.Frames) == 0
}

// Positions returns the 1-based positions in sample order
func (s ReportSample) Positions() []int {
	out := make([]int, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Position
	}
	return out
}
