package client

import (
	"io"

	"github.com/pbridge/grpcweb/grpcweb"
	"github.com/pbridge/grpcweb/rpcweb"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Stream lazily iterates the messages of a server-streaming response.
// Next must be called until it returns ok=false; a nil err at that point
// means the stream ended cleanly (grpc-status OK), a non-nil err carries
// the status the server's trailer reported.
//
// Binary-mode streams read frames directly off the live HTTP response
// body as they arrive. Text-mode streams are decoded up front: each
// frame was independently base64-encoded, and net/http's client hides
// the underlying HTTP chunk boundaries a truly incremental decode would
// need, so the text-mode path buffers the full body, splits it into its
// independently-encoded parts (grpcweb.UnwrapChunkedText), and then
// serves frames from that buffered list — lazily from the caller's
// perspective, but not from the wire's.
type Stream struct {
	body       io.ReadCloser
	codec      rpcweb.Codec
	json       bool
	text       bool
	trailerOut *metadata.MD

	reader   *grpcweb.FrameReader
	buffered []grpcweb.Frame
	pos      int

	done bool
}

// Next returns the next message, or ok=false at the end of the stream.
func (s *Stream) Next() (msg any, ok bool, err error) {
	if s.done {
		return nil, false, nil
	}

	f, readErr := s.nextFrame()
	if readErr != nil {
		s.done = true
		if readErr == io.EOF {
			return nil, false, errors.New("stream ended without a trailer frame")
		}
		return nil, false, errors.Wrap(readErr, "failed to read the next frame")
	}

	if f.IsTrailer() {
		s.done = true
		trailer := grpcweb.ParseTrailer(f.Body)
		if s.trailerOut != nil {
			*s.trailerOut = trailer.Metadata
		}
		if trailer.Code != codes.OK {
			return nil, false, status.New(trailer.Code, trailer.Message).Err()
		}
		return nil, false, nil
	}

	if s.json {
		msg, err = s.codec.UnmarshalJSON(f.Body)
	} else {
		msg, err = s.codec.Unmarshal(f.Body)
	}
	if err != nil {
		s.done = true
		return nil, false, errors.Wrap(err, "failed to unmarshal a stream message")
	}
	return msg, true, nil
}

func (s *Stream) nextFrame() (grpcweb.Frame, error) {
	if s.text {
		if s.pos >= len(s.buffered) {
			return grpcweb.Frame{}, io.EOF
		}
		f := s.buffered[s.pos]
		s.pos++
		return f, nil
	}
	return s.reader.ReadFrame()
}

// Close releases the underlying HTTP response body. Safe to call after
// Next has already reached the end of the stream.
func (s *Stream) Close() error {
	return s.body.Close()
}
