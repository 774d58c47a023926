package source

import (
	"context"
	"io"
	"sync"

	"github.com/care/sentinel/internal/types"
)

// Replay serves frames that are already in memory. After the last frame it
// returns io.EOF, or a *Error wrapping Fail when Fail is set.
type Replay struct {
	Name string
	Fail error

	mu     sync.Mutex
	frames []types.Frame
	next   int
	closed bool
}

// NewReplay serves frames in order.
func NewReplay(name string, frames []types.Frame) *Replay {
	return &Replay{Name: name, frames: frames}
}

// Next returns the next stored frame.
func (r *Replay) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return types.Frame{}, ErrClosed
	}
	if r.next >= len(r.frames) {
		if r.Fail != nil {
			return types.Frame{}, &Error{Source: r.Name, Seq: uint64(r.next), Err: r.Fail}
		}
		return types.Frame{}, io.EOF
	}

	f := r.frames[r.next]
	r.next++
	return f, nil
}

// Close ends the stream.
func (r *Replay) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
