package grpcweb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameReader reads frames one at a time from an io.Reader, for callers that
// need to stop after the first trailer frame instead of slurping the whole
// body (as Unpack does for a fully-buffered unary request).
type FrameReader struct {
	r io.Reader
}

// NewFrameReader wraps r. r should already have any text-mode base64
// transform applied (see UnwrapText).
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame reads a single frame, returning io.EOF once the underlying
// reader is exhausted between frames.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Frame{}, fmt.Errorf("%w: truncated header", ErrMalformedFrame)
		}
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[1:frameHeaderSize])
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, body); err != nil {
			return Frame{}, fmt.Errorf("%w: truncated body: %v", ErrMalformedFrame, err)
		}
	}

	return Frame{Type: FrameType(header[0]), Body: body}, nil
}

// FrameWriter writes frames to an io.Writer. It does not flush; a caller
// that needs each frame on the wire at once (e.g. via http.Flusher) flushes
// after WriteFrame itself, so this type stays transport-agnostic.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w. For streaming text mode, wrap w in a per-frame
// base64 encoder (see NewChunkTextWriter) before constructing the
// FrameWriter.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes a single frame to the wire.
func (fw *FrameWriter) WriteFrame(f Frame) error {
	if _, err := fw.w.Write(Pack(f)); err != nil {
		return fmt.Errorf("grpcweb: write frame: %w", err)
	}
	return nil
}
