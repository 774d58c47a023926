package source

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/care/sentinel/internal/types"
)

func TestSyntheticRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  SyntheticConfig
	}{
		{"zero width", SyntheticConfig{Width: 0, Height: 10}},
		{"negative fps", SyntheticConfig{Width: 10, Height: 10, FPS: -1}},
		{"negative frames", SyntheticConfig{Width: 10, Height: 10, Frames: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSynthetic(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSyntheticFrames(t *testing.T) {
	s, err := NewSynthetic(SyntheticConfig{Width: 8, Height: 4, Frames: 5})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Errorf("expected seq %d, got %d", i, f.Seq)
		}
		if err := f.Validate(); err != nil {
			t.Errorf("frame %d invalid: %v", i, err)
		}
		if f.TraceID == "" {
			t.Errorf("frame %d has no trace id", i)
		}
	}

	if _, err := s.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
	if got := s.Stats().FrameCount; got != 5 {
		t.Errorf("expected 5 frames counted, got %d", got)
	}
}

func TestSyntheticClose(t *testing.T) {
	s, _ := NewSynthetic(SyntheticConfig{Width: 2, Height: 2})
	s.Close()
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSyntheticPacingHonorsContext(t *testing.T) {
	s, _ := NewSynthetic(SyntheticConfig{Width: 2, Height: 2, FPS: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// First frame is immediate, second waits a full second.
	if _, err := s.Next(ctx); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	start := time.Now()
	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Next did not return promptly on cancellation")
	}
}

func TestReplay(t *testing.T) {
	frames := []types.Frame{{Seq: 10}, {Seq: 11}, {Seq: 12}}
	r := NewReplay("test", frames)

	for _, want := range frames {
		f, err := r.Next(context.Background())
		if err != nil {
			t.Fatalf("frame %d: %v", want.Seq, err)
		}
		if f.Seq != want.Seq {
			t.Errorf("expected seq %d, got %d", want.Seq, f.Seq)
		}
	}
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReplayFailureIsSourceError(t *testing.T) {
	cause := errors.New("corrupt packet")
	r := NewReplay("cam-1", nil)
	r.Fail = cause

	_, err := r.Next(context.Background())
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if se.Source != "cam-1" {
		t.Errorf("expected source cam-1, got %q", se.Source)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause in chain, got %v", err)
	}
	if IsEOF(err) {
		t.Error("source error must not be treated as EOF")
	}
}
