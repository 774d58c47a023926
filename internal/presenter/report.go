package presenter

import (
	"fmt"
	"html/template"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/care/sentinel/internal/pipeline"
	"github.com/care/sentinel/internal/report"
	"github.com/care/sentinel/internal/types"
)

const (
	indexFile = "index.html"
	chartFile = "chart.html"
)

// ReportConfig controls where and how reports are written.
type ReportConfig struct {
	// Dir receives one subdirectory per stream
	Dir     string
	Width   int
	Height  int
	Columns int
}

// ReportWriter writes the end-of-stream report: one PNG per sampled frame,
// a theft probability chart and an index page laying them out in a grid.
// Subscribe it synchronously so the report exists when the stream returns.
type ReportWriter struct {
	cfg ReportConfig

	// OnWritten is called after a report directory is complete
	OnWritten func(streamID, dir string)

	mu     sync.Mutex
	series map[string][]float64
}

// NewReportWriter fills defaults (640x480, 3 columns).
func NewReportWriter(cfg ReportConfig) *ReportWriter {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 640, 480
	}
	if cfg.Columns <= 0 {
		cfg.Columns = 3
	}
	return &ReportWriter{cfg: cfg, series: make(map[string][]float64)}
}

// OnEvent implements pipeline.Observer.
func (w *ReportWriter) OnEvent(e pipeline.Event) {
	switch ev := e.(type) {
	case pipeline.WindowClassified:
		w.mu.Lock()
		w.series[ev.StreamID] = append(w.series[ev.StreamID], ev.Result.Theft())
		w.mu.Unlock()
	case pipeline.ReportReady:
		w.mu.Lock()
		series := w.series[ev.StreamID]
		delete(w.series, ev.StreamID)
		w.mu.Unlock()

		dir, err := w.Write(ev.StreamID, ev.Sample, series)
		if err != nil {
			slog.Error("failed to write report", "stream_id", ev.StreamID, "error", err)
			return
		}
		slog.Info("report written", "stream_id", ev.StreamID, "dir", dir, "frames", len(ev.Sample.Frames))
		if w.OnWritten != nil {
			w.OnWritten(ev.StreamID, dir)
		}
	}
}

// Forget drops collected probabilities for a stream that ended without a report.
func (w *ReportWriter) Forget(streamID string) {
	w.mu.Lock()
	delete(w.series, streamID)
	w.mu.Unlock()
}

// Write renders the report for one stream and returns its directory.
func (w *ReportWriter) Write(streamID string, sample types.ReportSample, theft []float64) (string, error) {
	dir := filepath.Join(w.cfg.Dir, streamID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	page := indexPage{StreamID: streamID, Total: sample.Total, Chart: len(theft) > 0}
	for _, row := range report.Layout(sample, w.cfg.Columns) {
		var cells []indexCell
		for _, sf := range row {
			name := FrameFileName(sf.Position)
			caption := fmt.Sprintf("Frame %d", sf.Position)
			if err := w.writeThumbnail(filepath.Join(dir, name), sf.Frame, caption); err != nil {
				return "", err
			}
			cells = append(cells, indexCell{File: name, Caption: caption})
		}
		page.Rows = append(page.Rows, cells)
	}

	if page.Chart {
		if err := writeChart(filepath.Join(dir, chartFile), streamID, theft); err != nil {
			return "", err
		}
	}

	f, err := os.Create(filepath.Join(dir, indexFile))
	if err != nil {
		return "", fmt.Errorf("create index: %w", err)
	}
	defer f.Close()
	if err := indexTemplate.Execute(f, page); err != nil {
		return "", fmt.Errorf("render index: %w", err)
	}
	return dir, nil
}

// FrameFileName is the thumbnail name for a 1-based report position.
func FrameFileName(position int) string {
	return fmt.Sprintf("frame_%d.png", position)
}

func (w *ReportWriter) writeThumbnail(path string, frame types.Frame, caption string) error {
	img, err := Thumbnail(frame, caption, w.cfg.Width, w.cfg.Height)
	if err != nil {
		return fmt.Errorf("%s: %w", caption, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func writeChart(path, streamID string, theft []float64) error {
	xs := make([]int, len(theft))
	data := make([]opts.LineData, len(theft))
	for i, p := range theft {
		xs[i] = i + 1
		data[i] = opts.LineData{Value: math.Round(p*10000) / 100}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Theft probability", Width: "900px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Theft probability per window", Subtitle: "stream=" + streamID}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "window", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "%", Min: 0, Max: 100}),
	)
	line.SetXAxis(xs).AddSeries("theft", data)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	if err := line.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}

type indexCell struct {
	File    string
	Caption string
}

type indexPage struct {
	StreamID string
	Total    int
	Rows     [][]indexCell
	Chart    bool
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Theft report {{.StreamID}}</title>
<style>
body { font-family: sans-serif; margin: 24px; }
table { border-collapse: collapse; }
td { padding: 6px; text-align: center; }
img { max-width: 320px; display: block; }
</style>
</head>
<body>
<h1>Theft report</h1>
<p>stream {{.StreamID}}</p>
{{if .Rows}}<table>
{{range .Rows}}<tr>{{range .}}<td><img src="{{.File}}" alt="{{.Caption}}"><div>{{.Caption}}</div></td>{{end}}</tr>
{{end}}</table>
{{else}}<p>No theft behavior detected.</p>
{{end}}<p>total frame: {{.Total}}</p>
{{if .Chart}}<iframe src="chart.html" width="940" height="400" frameborder="0"></iframe>{{end}}
</body>
</html>
`))
