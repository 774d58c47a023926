// Package source defines where frames come from.
//
// A Source is pulled one frame at a time by the pipeline loop. End of stream
// is io.EOF; any other failure is a *Error and aborts the stream.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/care/sentinel/internal/types"
)

// Source yields decoded frames in order.
type Source interface {
	// Next blocks until a frame is available, the stream ends (io.EOF),
	// ctx is done, or the source fails.
	Next(ctx context.Context) (types.Frame, error)
	Close() error
}

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("source closed")

// Error reports a failure to produce the next frame, such as a corrupt file
// or a lost camera.
type Error struct {
	// Source names the stream (file path, URL, "synthetic")
	Source string
	// Seq is the sequence number the source was trying to produce
	Seq uint64
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s: frame %d: %v", e.Source, e.Seq, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsEOF reports whether err marks a normal end of stream.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
