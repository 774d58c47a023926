package types

import (
	"fmt"
	"time"
)

// PixelFormat identifies the byte layout of Frame.Data
type PixelFormat string

const (
	// FormatBGR24 is 3 bytes per pixel, blue first (OpenCV/GStreamer BGR)
	FormatBGR24 PixelFormat = "BGR24"
	// FormatRGB24 is 3 bytes per pixel, red first
	FormatRGB24 PixelFormat = "RGB24"
)

// BytesPerPixel returns the pixel stride for the format
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGR24, FormatRGB24:
		return 3
	default:
		return 0
	}
}

// Frame represents a single decoded video frame
type Frame struct {
	// Seq is the 0-based arrival index within the stream
	Seq uint64
	// Timestamp is when the frame was decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format of Data (BGR24 by default)
	Format PixelFormat
	// Data contains the raw pixel bytes. Read-only once produced.
	Data []byte
	// TraceID is a unique identifier for following a frame through logs
	TraceID string
}

// Validate checks that Data matches the declared geometry
func (f *Frame) Validate() error {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("unsupported pixel format %q", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * bpp; len(f.Data) != want {
		return fmt.Errorf("frame %d: data size %d, expected %d", f.Seq, len(f.Data), want)
	}
	return nil
}

// Window is an ordered batch of consecutive frames submitted together for
// classification. A Window handed out by the sequence buffer is always full.
type Window struct {
	// Index is the 0-based window number within the stream
	Index int
	// Frames in arrival order
	Frames []Frame
}

// Len returns the number of frames in the window
func (w Window) Len() int {
	return len(w.Frames)
}

// FirstSeq returns the sequence number of the first frame, or 0 for an empty window
func (w Window) FirstSeq() uint64 {
	if len(w.Frames) == 0 {
		return 0
	}
	return w.Frames[0].Seq
}

// LastSeq returns the sequence number of the last frame, or 0 for an empty window
func (w Window) LastSeq() uint64 {
	if len(w.Frames) == 0 {
		return 0
	}
	return w.Frames[len(w.Frames)-1].Seq
}
