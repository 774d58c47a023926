// Package report selects the frames shown in the end-of-stream report.
package report

import "github.com/care/sentinel/internal/types"

// DefaultSampleSize is how many frames the report shows.
const DefaultSampleSize = 6

// Sample picks up to size evenly spaced frames from flagged.
//
// The stride is max(len(flagged)/size, 1) and frames are taken at
// 0, stride, 2*stride, ... When fewer than size frames were flagged every
// frame is returned once, so the result may be shorter than size but never
// indexes past the end. Each pick carries its 1-based position.
func Sample(flagged []types.Frame, size int) types.ReportSample {
	sample := types.ReportSample{Total: len(flagged)}
	if len(flagged) == 0 || size <= 0 {
		return sample
	}

	stride := len(flagged) / size
	if stride < 1 {
		stride = 1
	}

	n := size
	if len(flagged) < n {
		n = len(flagged)
	}

	sample.Frames = make([]types.SampledFrame, 0, n)
	for i := 0; i < n; i++ {
		idx := i * stride
		sample.Frames = append(sample.Frames, types.SampledFrame{
			Position: idx + 1,
			Frame:    flagged[idx],
		})
	}

	return sample
}

// Layout arranges a sample into rows of at most columns cells, row-major,
// matching the report grid (3 columns x 2 rows for the default sample).
func Layout(sample types.ReportSample, columns int) [][]types.SampledFrame {
	if columns <= 0 || sample.Empty() {
		return nil
	}

	rows := make([][]types.SampledFrame, 0, (len(sample.Frames)+columns-1)/columns)
	for start := 0; start < len(sample.Frames); start += columns {
		end := start + columns
		if end > len(sample.Frames) {
			end = len(sample.Frames)
		}
		rows = append(rows, sample.Frames[start:end])
	}
	return rows
}
