// Package gstreamer decodes video files with GStreamer.
//
// Pipeline structure:
//
//	filesrc → decodebin → videoconvert → videoscale → [videorate] →
//	capsfilter(BGR, WxH) → appsink
//
// Unlike a live camera the appsink never drops: every decoded frame is
// handed to the pipeline loop, and the appsink callback blocks until the
// loop has room. End of file arrives as io.EOF once all buffered frames
// have been returned.
package gstreamer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/sentinel/internal/source"
	"github.com/care/sentinel/internal/types"
)

// Config describes the file and the frame geometry handed to the classifier.
type Config struct {
	Path   string
	Width  int
	Height int
	// FPS resamples the stream when > 0
	FPS int
	// Buffer is how many decoded frames may wait for the loop (default 8)
	Buffer int
}

// FileSource is a source.Source backed by a GStreamer pipeline.
type FileSource struct {
	cfg Config

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames chan types.Frame
	end    chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seq      uint64
	finished error
	closed   atomic.Bool
}

// Open builds the pipeline and starts decoding.
func Open(cfg Config) (*FileSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("gstreamer: path is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gstreamer: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 8
	}

	gst.Init(nil)

	s := &FileSource{
		cfg:    cfg,
		frames: make(chan types.Frame, cfg.Buffer),
		end:    make(chan error, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.build(); err != nil {
		s.cancel()
		return nil, err
	}

	s.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		s.cancel()
		return nil, fmt.Errorf("gstreamer: failed to start pipeline: %w", err)
	}

	s.wg.Add(1)
	go s.monitorBus()

	slog.Info("gstreamer: file source opened",
		"path", cfg.Path,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
	)
	return s, nil
}

func (s *FileSource) build() error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create pipeline: %w", err)
	}

	filesrc, err := gst.NewElement("filesrc")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create filesrc: %w", err)
	}
	filesrc.SetProperty("location", s.cfg.Path)

	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create decodebin: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(s.cfg)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", uint(s.cfg.Buffer))
	appsink.SetProperty("drop", false)

	chain := []*gst.Element{converter, scaler}
	if s.cfg.FPS > 0 {
		videorate, err := gst.NewElement("videorate")
		if err != nil {
			return fmt.Errorf("gstreamer: failed to create videorate: %w", err)
		}
		chain = append(chain, videorate)
	}
	chain = append(chain, capsfilter, appsink.Element)

	if err := pipeline.AddMany(append([]*gst.Element{filesrc, decodebin}, chain...)...); err != nil {
		return fmt.Errorf("gstreamer: failed to add elements: %w", err)
	}
	if err := filesrc.Link(decodebin); err != nil {
		return fmt.Errorf("gstreamer: failed to link filesrc: %w", err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return fmt.Errorf("gstreamer: failed to link pipeline elements: %w", err)
	}

	// decodebin pads appear once the container has been parsed.
	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		onPadAdded(srcPad, converter)
	})

	s.pipeline = pipeline
	s.appsink = appsink
	return nil
}

func buildCaps(cfg Config) string {
	caps := fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d", cfg.Width, cfg.Height)
	if cfg.FPS > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", cfg.FPS)
	}
	return caps
}

// onPadAdded links the first video pad of decodebin to videoconvert and
// ignores audio and subtitle pads.
func onPadAdded(srcPad *gst.Pad, converter *gst.Element) {
	caps := srcPad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return
	}
	name := caps.GetStructureAt(0).Name()
	if !strings.HasPrefix(name, "video/") {
		slog.Debug("gstreamer: ignoring non-video pad", "pad", srcPad.GetName(), "caps", name)
		return
	}

	sinkPad := converter.GetStaticPad("sink")
	if sinkPad == nil || sinkPad.IsLinked() {
		return
	}
	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("gstreamer: failed to link decodebin pad",
			"pad", srcPad.GetName(),
			"ret", ret,
		)
	}
}

// onNewSample copies the mapped buffer into a Frame and hands it to Next.
func (s *FileSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstreamer: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := packRows(mapInfo.Bytes(), s.cfg.Width, s.cfg.Height)
	buffer.Unmap()
	if data == nil {
		slog.Warn("gstreamer: unexpected buffer size, skipping frame")
		return gst.FlowOK
	}

	frame := types.Frame{
		Seq:       atomic.AddUint64(&s.seq, 1) - 1,
		Timestamp: time.Now(),
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Format:    types.FormatBGR24,
		Data:      data,
		TraceID:   uuid.New().String(),
	}

	select {
	case s.frames <- frame:
		return gst.FlowOK
	case <-s.ctx.Done():
		return gst.FlowEOS
	}
}

// packRows copies a mapped BGR buffer into a tightly packed slice.
// GStreamer pads each row to a multiple of 4 bytes.
func packRows(src []byte, width, height int) []byte {
	row := width * 3
	stride := (row + 3) &^ 3

	switch len(src) {
	case row * height:
		out := make([]byte, len(src))
		copy(out, src)
		return out
	case stride * height:
		out := make([]byte, row*height)
		for y := 0; y < height; y++ {
			copy(out[y*row:(y+1)*row], src[y*stride:y*stride+row])
		}
		return out
	default:
		return nil
	}
}

func (s *FileSource) monitorBus() {
	defer s.wg.Done()

	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstreamer: end of stream", "path", s.cfg.Path, "frames", atomic.LoadUint64(&s.seq))
			s.end <- io.EOF
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("gstreamer: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"path", s.cfg.Path,
			)
			s.end <- &source.Error{
				Source: s.cfg.Path,
				Seq:    atomic.LoadUint64(&s.seq),
				Err:    fmt.Errorf("pipeline error: %s", gerr.Error()),
			}
			return
		}
	}
}

// Next returns decoded frames in order, then the terminal error.
func (s *FileSource) Next(ctx context.Context) (types.Frame, error) {
	if s.closed.Load() {
		return types.Frame{}, source.ErrClosed
	}

	// Frames decoded before EOS are still delivered.
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}
	if s.finished != nil {
		return types.Frame{}, s.finished
	}

	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.end:
		s.finished = err
		select {
		case f := <-s.frames:
			return f, nil
		default:
			return types.Frame{}, err
		}
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

// Close stops the pipeline and releases it.
func (s *FileSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstreamer: failed to stop pipeline: %w", err)
	}
	slog.Info("gstreamer: file source closed", "path", s.cfg.Path, "frames", atomic.LoadUint64(&s.seq))
	return nil
}
