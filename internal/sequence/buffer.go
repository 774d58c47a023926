// Package sequence accumulates frames into fixed-size windows.
//
// A Buffer hands out a Window only once it holds exactly Size frames and
// then starts over empty. A partially filled buffer is never classified:
// at end-of-stream or cancellation the caller discards it.
//
//	buf, _ := sequence.New(30)
//	for {
//	    frame, err := src.Next(ctx)
//	    if err != nil {
//	        break
//	    }
//	    if window, ok := buf.Push(frame); ok {
//	        classify(window)
//	    }
//	}
//	buf.Discard()
package sequence

import (
	"errors"

	"github.com/care/sentinel/internal/types"
)

// ErrInvalidSize is returned by New when the window size is not positive.
var ErrInvalidSize = errors.New("sequence: window size must be > 0")

// Buffer collects frames until a window is complete.
// Not safe for concurrent use; owned by a single pipeline loop.
type Buffer struct {
	size    int
	pending []types.Frame
	next    int // index assigned to the next completed window
}

// New creates a buffer producing windows of exactly size frames.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return &Buffer{
		size:    size,
		pending: make([]types.Frame, 0, size),
	}, nil
}

// Size returns the configured window size.
func (b *Buffer) Size() int {
	return b.size
}

// Len returns how many frames are waiting in the current window.
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Completed returns how many windows have been handed out so far.
func (b *Buffer) Completed() int {
	return b.next
}

// Push appends a frame. When the window becomes full it is returned with
// ok=true and the buffer resets; the returned frames are owned by the caller.
func (b *Buffer) Push(frame types.Frame) (window types.Window, ok bool) {
	b.pending = append(b.pending, frame)
	if len(b.pending) < b.size {
		return types.Window{}, false
	}

	window = types.Window{
		Index:  b.next,
		Frames: b.pending,
	}
	b.next++
	// Fresh backing array: the window keeps the old one.
	b.pending = make([]types.Frame, 0, b.size)

	return window, true
}

// Discard drops the partial window and returns how many frames were dropped.
func (b *Buffer) Discard() int {
	n := len(b.pending)
	b.pending = b.pending[:0]
	return n
}
