package report

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/care/sentinel/internal/types"
)

func flagged(n int) []types.Frame {
	out := make([]types.Frame, n)
	for i := range out {
		out[i] = types.Frame{Seq: uint64(1000 + i)}
	}
	return out
}

func indices(s types.ReportSample) []int {
	out := make([]int, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Position - 1
	}
	return out
}

func TestSample(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		size    int
		indices []int
	}{
		{"empty", 0, 6, []int{}},
		{"eighteen frames stride three", 18, 6, []int{0, 3, 6, 9, 12, 15}},
		{"exact size", 6, 6, []int{0, 1, 2, 3, 4, 5}},
		{"fewer than size returns all", 4, 6, []int{0, 1, 2, 3}},
		{"one window", 30, 6, []int{0, 5, 10, 15, 20, 25}},
		{"scenario C", 240, 6, []int{0, 40, 80, 120, 160, 200}},
		{"floor division", 20, 6, []int{0, 3, 6, 9, 12, 15}},
		{"size one", 10, 1, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Sample(flagged(tt.n), tt.size)
			if s.Total != tt.n {
				t.Errorf("Total = %d, want %d", s.Total, tt.n)
			}
			if diff := cmp.Diff(tt.indices, indices(s)); diff != "" {
				t.Errorf("indices mismatch (-want +got):\n%s", diff)
			}
			for _, f := range s.Frames {
				if f.Frame.Seq != uint64(1000+f.Position-1) {
					t.Errorf("position %d carries seq %d", f.Position, f.Frame.Seq)
				}
			}
		})
	}
}

func TestSampleEmptyIsEmpty(t *testing.T) {
	s := Sample(nil, DefaultSampleSize)
	if !s.Empty() {
		t.Errorf("Sample(nil) not empty: %+v", s)
	}
}

func TestSampleDeterministic(t *testing.T) {
	in := flagged(97)
	a := Sample(in, DefaultSampleSize)
	b := Sample(in, DefaultSampleSize)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("Sample not deterministic (-first +second):\n%s", diff)
	}
}

func TestSamplePositionsStrictlyIncrease(t *testing.T) {
	for n := 1; n <= 300; n++ {
		s := Sample(flagged(n), DefaultSampleSize)
		pos := s.Positions()
		for i := 1; i < len(pos); i++ {
			if pos[i] <= pos[i-1] {
				t.Fatalf("n=%d: positions not increasing: %v", n, pos)
			}
		}
		if last := pos[len(pos)-1]; last > n {
			t.Fatalf("n=%d: position %d out of range", n, last)
		}
	}
}

func TestLayout(t *testing.T) {
	s := Sample(flagged(18), 6)
	rows := Layout(s, 3)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	var got [][]int
	for _, row := range rows {
		var r []int
		for _, cell := range row {
			r = append(r, cell.Position)
		}
		got = append(got, r)
	}
	want := [][]int{{1, 4, 7}, {10, 13, 16}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}

	if Layout(types.ReportSample{}, 3) != nil {
		t.Error("empty sample should have no rows")
	}
	if rows := Layout(Sample(flagged(4), 6), 3); len(rows) != 2 || len(rows[1]) != 1 {
		t.Errorf("partial layout = %v", rows)
	}
}
