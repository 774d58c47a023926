package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/sentinel/internal/types"
)

// SyntheticConfig describes a generated stream.
type SyntheticConfig struct {
	Name   string
	Width  int
	Height int
	// FPS paces Next in real time; 0 yields frames as fast as they are pulled
	FPS int
	// Frames is the stream length; 0 means unbounded
	Frames int
}

// Stats is a snapshot of a source's progress.
type Stats struct {
	FrameCount uint64
	FPSTarget  int
	FPSReal    float64
	Source     string
	Resolution string
}

// Synthetic generates BGR24 gradient frames. Each frame's brightness moves
// with its sequence number so thumbnails are visibly distinct.
type Synthetic struct {
	cfg SyntheticConfig

	mu        sync.Mutex
	seq       uint64
	closed    bool
	startTime time.Time
	lastFrame time.Time
}

// NewSynthetic creates a generated stream.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid synthetic frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS < 0 || cfg.Frames < 0 {
		return nil, fmt.Errorf("fps and frames must not be negative")
	}
	if cfg.Name == "" {
		cfg.Name = "synthetic"
	}

	slog.Info("synthetic stream created",
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
		"frames", cfg.Frames,
	)

	return &Synthetic{cfg: cfg}, nil
}

// Next returns the next generated frame.
func (s *Synthetic) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.Frame{}, ErrClosed
	}
	if s.cfg.Frames > 0 && s.seq >= uint64(s.cfg.Frames) {
		s.mu.Unlock()
		return types.Frame{}, io.EOF
	}
	if s.startTime.IsZero() {
		s.startTime = time.Now()
	}
	wait := s.pacing()
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frame := s.createFrame(s.seq)
	s.seq++
	s.lastFrame = frame.Timestamp
	return frame, nil
}

func (s *Synthetic) pacing() time.Duration {
	if s.cfg.FPS == 0 || s.lastFrame.IsZero() {
		return 0
	}
	frameDuration := time.Second / time.Duration(s.cfg.FPS)
	return time.Until(s.lastFrame.Add(frameDuration))
}

func (s *Synthetic) createFrame(seq uint64) types.Frame {
	data := make([]byte, s.cfg.Width*s.cfg.Height*3)
	shade := byte(seq * 7)
	for y := 0; y < s.cfg.Height; y++ {
		row := y * s.cfg.Width * 3
		for x := 0; x < s.cfg.Width; x++ {
			i := row + x*3
			data[i] = byte(x * 255 / s.cfg.Width)    // B
			data[i+1] = byte(y * 255 / s.cfg.Height) // G
			data[i+2] = shade                        // R
		}
	}

	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Format:    types.FormatBGR24,
		Data:      data,
		TraceID:   uuid.New().String(),
	}
}

// Stats returns stream statistics.
func (s *Synthetic) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fpsReal float64
	if s.seq > 0 {
		if elapsed := s.lastFrame.Sub(s.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(s.seq-1) / elapsed
		}
	}

	return Stats{
		FrameCount: s.seq,
		FPSTarget:  s.cfg.FPS,
		FPSReal:    fpsReal,
		Source:     s.cfg.Name,
		Resolution: fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
	}
}

// Close ends the stream.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		slog.Info("synthetic stream closed", "frames_emitted", s.seq)
	}
	return nil
}
