package classifier

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single framed message. A 30 frame window of
// 640x480 BGR is about 27 MiB, so this leaves headroom without letting a
// corrupt prefix allocate gigabytes.
const maxMessageSize = 256 << 20

// request is one window sent to the model worker.
type request struct {
	Window int         `msgpack:"window"`
	Width  int         `msgpack:"width"`
	Height int         `msgpack:"height"`
	Format string      `msgpack:"format"`
	Frames [][]byte    `msgpack:"frames"`
	Meta   requestMeta `msgpack:"meta"`
}

type requestMeta struct {
	InstanceID string `msgpack:"instance_id"`
	FirstSeq   uint64 `msgpack:"first_seq"`
	LastSeq    uint64 `msgpack:"last_seq"`
	TraceID    string `msgpack:"trace_id"`
}

// response is the worker's answer for one window.
type response struct {
	Window        int       `msgpack:"window"`
	Probabilities []float64 `msgpack:"probabilities"`
	Error         string    `msgpack:"error,omitempty"`
	Timing        timing    `msgpack:"timing"`
}

type timing struct {
	TotalMS     float64 `msgpack:"total_ms"`
	InferenceMS float64 `msgpack:"inference_ms"`
}

// writeMessage writes v as msgpack with a 4 byte big-endian length prefix.
func writeMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write msgpack data: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
// io.EOF is returned unwrapped when the stream ends between messages.
func readMessage(r io.Reader, v any) error {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix)
	if n > maxMessageSize {
		return fmt.Errorf("message length %d exceeds limit %d", n, maxMessageSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read msgpack data (expected %d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal msgpack: %w", err)
	}
	return nil
}
