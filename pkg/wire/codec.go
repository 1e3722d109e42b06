package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Framing errors.
var (
	// ErrFrameTooLarge is returned when a terminated frame exceeds
	// MaxFrameSize bytes including its terminator. The frame is discarded.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrMalformed is returned when a frame is not a valid JSON object.
	ErrMalformed = errors.New("malformed frame")
)

// maxPayload is the largest frame payload: MaxFrameSize minus the CRLF
// terminator.
const maxPayload = MaxFrameSize - 2

// Encode marshals m as a compact JSON object followed by CRLF. It fails if
// the encoded frame would exceed MaxFrameSize.
func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(b) > maxPayload {
		return nil, ErrFrameTooLarge
	}
	return append(b, '\r', '\n'), nil
}

// Decode parses one frame payload (terminator already stripped) into a
// Message.
func Decode(frame []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &m, nil
}

// Framer cuts an inbound byte stream into frames. Bytes are appended with
// Feed; Next scans for a `\r?\n` terminator and returns the payload before
// it. Empty frames are dropped silently. The Framer never interprets JSON.
//
// Framer is not safe for concurrent use; each connection owns one.
type Framer struct {
	buf []byte
}

// Feed appends received bytes to the receive buffer.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Buffered returns the number of bytes awaiting a terminator.
func (f *Framer) Buffered() int { return len(f.buf) }

// Next extracts the next complete frame. It returns (nil, nil) when the
// buffer holds no complete frame, and (nil, ErrFrameTooLarge) when a
// terminated frame exceeded the size limit and was discarded.
//
// A terminator-less buffer is capped at MaxFrameSize bytes: older bytes are
// dropped so a peer streaming garbage cannot grow the buffer without bound.
func (f *Framer) Next() ([]byte, error) {
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			if len(f.buf) > MaxFrameSize {
				f.buf = append(f.buf[:0:0], f.buf[len(f.buf)-MaxFrameSize:]...)
			}
			return nil, nil
		}

		line := f.buf[:i]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		// Copy out before releasing the consumed prefix.
		frame := append([]byte(nil), line...)
		f.buf = append(f.buf[:0:0], f.buf[i+1:]...)

		if len(frame) == 0 {
			continue
		}
		if len(frame) > maxPayload {
			return nil, ErrFrameTooLarge
		}
		return frame, nil
	}
}
