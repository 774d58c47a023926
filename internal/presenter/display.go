// Package presenter turns pipeline events into something an operator can
// look at: log lines, the annotated live frame and the end-of-stream report.
package presenter

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"sync"

	"github.com/care/sentinel/internal/pipeline"
	"github.com/care/sentinel/internal/types"
)

// ErrNoFrame is returned by Snapshot before the first frame.
var ErrNoFrame = errors.New("presenter: no frame displayed yet")

// Display keeps the most recent FrameDisplayed event. Rendering happens on
// demand so the pipeline loop only pays for a struct copy.
type Display struct {
	width  int
	height int

	mu     sync.Mutex
	last   pipeline.FrameDisplayed
	has    bool
	frames uint64
}

// NewDisplay renders at width x height (640x480 by default).
func NewDisplay(width, height int) *Display {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	return &Display{width: width, height: height}
}

// OnEvent implements pipeline.Observer.
func (d *Display) OnEvent(e pipeline.Event) {
	switch ev := e.(type) {
	case pipeline.FrameDisplayed:
		d.mu.Lock()
		d.last = ev
		d.has = true
		d.frames++
		d.mu.Unlock()
	case pipeline.AlarmCleared, pipeline.ReportReady:
		d.mu.Lock()
		d.last.Attention = false
		d.mu.Unlock()
	}
}

// Panel returns the text panel for the last frame.
func (d *Display) Panel() (Panel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.has {
		return Panel{}, false
	}
	return panelFor(d.last), true
}

func panelFor(ev pipeline.FrameDisplayed) Panel {
	return Panel{
		FrameCount: ev.Position,
		Label:      ev.Label,
		TheftPct:   ev.TheftPct,
		NormalPct:  ev.NormalPct,
		Attention:  ev.Attention,
	}
}

// Snapshot renders the last frame with its panel.
func (d *Display) Snapshot() (*image.RGBA, error) {
	d.mu.Lock()
	ev, has := d.last, d.has
	d.mu.Unlock()

	if !has {
		return nil, ErrNoFrame
	}
	return Annotate(ev.Frame, panelFor(ev), d.width, d.height)
}

// SnapshotPNG is Snapshot encoded as PNG.
func (d *Display) SnapshotPNG() ([]byte, error) {
	img, err := d.Snapshot()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Frames returns how many frames were shown since start.
func (d *Display) Frames() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// LogPresenter writes events to slog. Frames are logged at debug level
// every Every frames (0 disables frame logs).
type LogPresenter struct {
	Every uint64
}

// OnEvent implements pipeline.Observer.
func (l LogPresenter) OnEvent(e pipeline.Event) {
	switch ev := e.(type) {
	case pipeline.FrameDisplayed:
		if l.Every == 0 || ev.Frame.Seq%l.Every != 0 {
			return
		}
		slog.Debug("frame",
			"stream_id", ev.StreamID,
			"frame_count", ev.Frame.Seq+1,
			"position", ev.Position,
			"predict", ev.Label.String(),
			"theft", ev.TheftPct,
			"normal", ev.NormalPct,
		)
	case pipeline.WindowClassified:
		slog.Info("window classified",
			"stream_id", ev.StreamID,
			"window", ev.Transition.Window,
			"frames", []uint64{ev.FirstSeq, ev.LastSeq},
			"label", ev.Transition.Label.String(),
			"theft", types.FormatPercent(ev.Result.Theft()),
			"state", ev.Transition.Current.String(),
		)
	case pipeline.AlarmRaised:
		slog.Warn("Attention, Theft Behavior Has Been Detected!",
			"stream_id", ev.StreamID,
			"window", ev.Window,
		)
	case pipeline.AlarmCleared:
		slog.Info("attention cleared", "stream_id", ev.StreamID, "window", ev.Window)
	case pipeline.ReportReady:
		slog.Info("report ready",
			"stream_id", ev.StreamID,
			"total_frames", ev.Total,
			"positions", ev.Sample.Positions(),
		)
	}
}
