// Package opencv decodes video files through gocv's VideoCapture. It is the
// alternative to the GStreamer source on hosts that ship OpenCV instead.
package opencv

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/care/sentinel/internal/source"
	"github.com/care/sentinel/internal/types"
)

// Config describes the file and the frame geometry handed to the classifier.
type Config struct {
	Path   string
	Width  int
	Height int
}

// FileSource is a source.Source reading a video file frame by frame.
type FileSource struct {
	cfg     Config
	capture *gocv.VideoCapture
	img     gocv.Mat
	resized gocv.Mat

	seq    uint64
	closed bool
}

// Open opens the video file.
func Open(cfg Config) (*FileSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("opencv: path is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("opencv: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}

	capture, err := gocv.VideoCaptureFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opencv: failed to open %s: %w", cfg.Path, err)
	}

	slog.Info("opencv: file source opened",
		"path", cfg.Path,
		"fps", capture.Get(gocv.VideoCaptureFPS),
		"frame_count", int64(capture.Get(gocv.VideoCaptureFrameCount)),
		"source_width", int64(capture.Get(gocv.VideoCaptureFrameWidth)),
		"source_height", int64(capture.Get(gocv.VideoCaptureFrameHeight)),
	)

	return &FileSource{
		cfg:     cfg,
		capture: capture,
		img:     gocv.NewMat(),
		resized: gocv.NewMat(),
	}, nil
}

// Next reads, resizes and copies out the next frame. A failed read at the
// end of the file is io.EOF; an empty frame before that is a source error.
func (s *FileSource) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.closed {
		return types.Frame{}, source.ErrClosed
	}

	if !s.capture.Read(&s.img) {
		return types.Frame{}, io.EOF
	}
	if s.img.Empty() {
		return types.Frame{}, &source.Error{
			Source: s.cfg.Path,
			Seq:    s.seq,
			Err:    fmt.Errorf("empty frame decoded"),
		}
	}

	gocv.Resize(s.img, &s.resized, image.Pt(s.cfg.Width, s.cfg.Height), 0, 0, gocv.InterpolationLinear)

	// ToBytes copies, so the Mats can be reused for the next read.
	frame := types.Frame{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Format:    types.FormatBGR24,
		Data:      s.resized.ToBytes(),
		TraceID:   uuid.New().String(),
	}
	s.seq++

	if err := frame.Validate(); err != nil {
		return types.Frame{}, &source.Error{Source: s.cfg.Path, Seq: frame.Seq, Err: err}
	}
	return frame, nil
}

// Close releases the capture and scratch buffers.
func (s *FileSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.img.Close()
	s.resized.Close()

	slog.Info("opencv: file source closed", "path", s.cfg.Path, "frames", s.seq)
	return s.capture.Close()
}
