// Package grpcweb implements the gRPC-Web wire protocol: frame packing,
// the text-mode (base64) transform, trailer encoding, and content-type
// negotiation. It has no knowledge of services, methods, or handlers.
package grpcweb

import (
	"encoding/binary"
	"fmt"
)

// FrameType distinguishes the two frame variants gRPC-Web defines.
type FrameType byte

const (
	// PayloadFrame carries an opaque serialized message.
	PayloadFrame FrameType = 0x00
	// TrailerFrame carries an HTTP-style header block with the gRPC status.
	TrailerFrame FrameType = 0x80

	// frameHeaderSize is the 1-byte tag plus the 4-byte big-endian length.
	frameHeaderSize = 5
)

// Frame is a single tagged byte record: a type tag plus a body.
type Frame struct {
	Type FrameType
	Body []byte
}

// IsTrailer reports whether the frame's tag has the trailer bit set.
func (f Frame) IsTrailer() bool {
	return f.Type&TrailerFrame != 0
}

// Pack emits tag(1) || length(4, big-endian) || body.
func Pack(f Frame) []byte {
	out := make([]byte, frameHeaderSize+len(f.Body))
	out[0] = byte(f.Type)
	binary.BigEndian.PutUint32(out[1:frameHeaderSize], uint32(len(f.Body)))
	copy(out[frameHeaderSize:], f.Body)
	return out
}

// ErrMalformedFrame is returned when a frame header or body is truncated.
var ErrMalformedFrame = fmt.Errorf("grpcweb: malformed frame")

// Unpack repeatedly reads a 5-byte header and its body from b until the
// buffer is exhausted. It fails with ErrMalformedFrame if the buffer ends
// mid-header or mid-body, or a declared length exceeds the remaining bytes.
// Unknown tags are not rejected here; classification (payload vs. trailer,
// via tag&0x80) is left to the caller.
func Unpack(b []byte) ([]Frame, error) {
	var frames []Frame
	for len(b) > 0 {
		if len(b) < frameHeaderSize {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformedFrame)
		}
		tag := b[0]
		length := binary.BigEndian.Uint32(b[1:frameHeaderSize])
		b = b[frameHeaderSize:]

		if uint64(length) > uint64(len(b)) {
			return nil, fmt.Errorf("%w: body shorter than declared length", ErrMalformedFrame)
		}

		body := make([]byte, length)
		copy(body, b[:length])
		b = b[length:]

		frames = append(frames, Frame{Type: FrameType(tag), Body: body})
	}
	return frames, nil
}
