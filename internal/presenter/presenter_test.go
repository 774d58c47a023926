package presenter

import (
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/care/sentinel/internal/pipeline"
	"github.com/care/sentinel/internal/report"
	"github.com/care/sentinel/internal/types"
)

func solidFrame(seq uint64, w, h int, b, g, r byte) types.Frame {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = b, g, r
	}
	return types.Frame{Seq: seq, Width: w, Height: h, Format: types.FormatBGR24, Data: data}
}

func TestToRGBASwapsChannels(t *testing.T) {
	tests := []struct {
		name   string
		format types.PixelFormat
		want   color.RGBA
	}{
		{"bgr", types.FormatBGR24, color.RGBA{30, 20, 10, 255}},
		{"rgb", types.FormatRGB24, color.RGBA{10, 20, 30, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := solidFrame(0, 2, 2, 10, 20, 30)
			f.Format = tt.format
			img, err := ToRGBA(f)
			if err != nil {
				t.Fatalf("ToRGBA: %v", err)
			}
			if got := img.RGBAAt(1, 1); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestToRGBARejectsBadFrame(t *testing.T) {
	f := types.Frame{Width: 4, Height: 4, Format: types.FormatBGR24, Data: []byte{1, 2, 3}}
	if _, err := ToRGBA(f); err == nil {
		t.Error("Expected error for short data")
	}
}

func TestScaleAndAnnotateSize(t *testing.T) {
	f := solidFrame(0, 160, 120, 0, 0, 0)
	img, err := Annotate(f, Panel{FrameCount: 1, Label: types.LabelTheft, TheftPct: "90.00%", NormalPct: "10.00%", Attention: true}, 640, 480)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Errorf("Expected 640x480, got %dx%d", b.Dx(), b.Dy())
	}
	// Attention border is drawn in red at the bottom edge.
	if got := img.RGBAAt(320, 479); got != colorRed {
		t.Errorf("Expected red border, got %v", got)
	}
}

func TestPanelLines(t *testing.T) {
	p := Panel{FrameCount: 31, Label: types.LabelPending, TheftPct: pipeline.Waiting, NormalPct: pipeline.Waiting}
	want := []string{
		"Frame Count: 31",
		"Theft: Waiting...",
		"Normal: Waiting...",
		"Predict: Detecting...",
	}
	if diff := cmp.Diff(want, p.Lines()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}

	p.Attention = true
	if lines := p.Lines(); lines[len(lines)-1] != "Attention, Theft Behavior Has Been Detected!" {
		t.Errorf("Expected attention line last, got %q", lines[len(lines)-1])
	}
}

func TestDisplaySnapshot(t *testing.T) {
	d := NewDisplay(64, 48)
	if _, err := d.Snapshot(); err != ErrNoFrame {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}

	d.OnEvent(pipeline.FrameDisplayed{Frame: solidFrame(41, 8, 6, 0, 0, 255), Position: 12, Label: types.LabelNormal})
	p, ok := d.Panel()
	if !ok || p.FrameCount != 12 {
		t.Errorf("Expected the in-window count 12, got %+v", p)
	}

	data, err := d.SnapshotPNG()
	if err != nil {
		t.Fatalf("SnapshotPNG: %v", err)
	}
	if len(data) < 8 || string(data[1:4]) != "PNG" {
		t.Error("Expected PNG data")
	}
	if d.Frames() != 1 {
		t.Errorf("Expected 1 frame, got %d", d.Frames())
	}
}

func TestReportWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewReportWriter(ReportConfig{Dir: dir, Width: 64, Height: 48})

	var written string
	w.OnWritten = func(_, d string) { written = d }

	flagged := make([]types.Frame, 30)
	for i := range flagged {
		flagged[i] = solidFrame(uint64(90+i), 8, 6, 0, 0, 200)
	}
	sample := report.Sample(flagged, 6)

	w.OnEvent(pipeline.WindowClassified{StreamID: "s1", Result: types.ClassificationResult{Probabilities: [2]float64{0.9, 0.1}}})
	w.OnEvent(pipeline.WindowClassified{StreamID: "s1", Result: types.ClassificationResult{Probabilities: [2]float64{0.1, 0.9}}})
	w.OnEvent(pipeline.ReportReady{StreamID: "s1", Sample: sample, Total: 30})

	want := filepath.Join(dir, "s1")
	if written != want {
		t.Fatalf("Expected report in %s, got %q", want, written)
	}
	for _, pos := range []int{1, 6, 11, 16, 21, 26} {
		if _, err := os.Stat(filepath.Join(want, FrameFileName(pos))); err != nil {
			t.Errorf("Expected thumbnail for position %d: %v", pos, err)
		}
	}

	index, err := os.ReadFile(filepath.Join(want, indexFile))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	for _, s := range []string{"Frame 1", "Frame 26", "total frame: 30", "chart.html"} {
		if !strings.Contains(string(index), s) {
			t.Errorf("Expected index to contain %q", s)
		}
	}
	if got := strings.Count(string(index), "<tr>"); got != 2 {
		t.Errorf("Expected 2 grid rows, got %d", got)
	}

	chart, err := os.ReadFile(filepath.Join(want, chartFile))
	if err != nil {
		t.Fatalf("read chart: %v", err)
	}
	if !strings.Contains(string(chart), "90") {
		t.Error("Expected theft percentage in chart data")
	}
}

func TestReportWriterEmptySample(t *testing.T) {
	dir := t.TempDir()
	w := NewReportWriter(ReportConfig{Dir: dir})

	out, err := w.Write("quiet", types.ReportSample{}, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	index, _ := os.ReadFile(filepath.Join(out, indexFile))
	if !strings.Contains(string(index), "No theft behavior detected.") {
		t.Error("Expected empty report message")
	}
	if !strings.Contains(string(index), "total frame: 0") {
		t.Error("Expected zero total")
	}
	if _, err := os.Stat(filepath.Join(out, chartFile)); !os.IsNotExist(err) {
		t.Error("Expected no chart without windows")
	}
}

func TestDisplayClearsAttention(t *testing.T) {
	tests := []struct {
		name  string
		event pipeline.Event
	}{
		{"alarm cleared", pipeline.AlarmCleared{StreamID: "s", Window: 4}},
		{"report ready", pipeline.ReportReady{StreamID: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDisplay(64, 48)
			d.OnEvent(pipeline.FrameDisplayed{
				StreamID:  "s",
				Frame:     solidFrame(119, 8, 6, 0, 0, 255),
				Position:  30,
				Label:     types.LabelTheft,
				Attention: true,
			})
			if p, _ := d.Panel(); !p.Attention {
				t.Fatal("Expected attention while alarmed")
			}

			d.OnEvent(tt.event)
			p, _ := d.Panel()
			if p.Attention {
				t.Error("Expected attention cleared")
			}
			for _, line := range p.Lines() {
				if strings.HasPrefix(line, "Attention") {
					t.Errorf("Expected no attention line, got %q", line)
				}
			}
		})
	}
}
