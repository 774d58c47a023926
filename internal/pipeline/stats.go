package pipeline

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencyStats summarises classifier latency over one stream.
type LatencyStats struct {
	Windows int
	Mean    time.Duration
	StdDev  time.Duration
	P95     time.Duration
	Max     time.Duration
}

type latencyRecorder struct {
	ms []float64
}

func (r *latencyRecorder) observe(d time.Duration) {
	r.ms = append(r.ms, float64(d)/float64(time.Millisecond))
}

func (r *latencyRecorder) summary() LatencyStats {
	s := LatencyStats{Windows: len(r.ms)}
	if len(r.ms) == 0 {
		return s
	}

	sorted := append([]float64(nil), r.ms...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	s.Mean = fromMS(mean)
	s.StdDev = fromMS(std)
	s.P95 = fromMS(stat.Quantile(0.95, stat.Empirical, sorted, nil))
	s.Max = fromMS(sorted[len(sorted)-1])
	return s
}

func fromMS(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
