package grpcweb

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"
)

// IsTextMode reports whether a Content-Type/Accept value selects gRPC-Web's
// text mode: its media-type substring contains "grpc-web-text".
func IsTextMode(contentType string) bool {
	return strings.Contains(contentType, "grpc-web-text")
}

// UnwrapText decodes an inbound body that was base64-encoded as a single
// blob (text-mode requests are always decoded this way, regardless of
// whether the RPC is unary or streaming — only the server's own response
// encoding differs per frame in streaming mode).
func UnwrapText(body []byte) ([]byte, error) {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(decoded, body)
	if err != nil {
		return nil, err
	}
	return decoded[:n], nil
}

// WrapText base64-encodes an already-framed unary response body as one blob.
func WrapText(framed []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(framed))
}

// UnwrapChunkedText decodes a streaming text-mode response body, which is
// a concatenation of independently base64-encoded parts (one per frame)
// rather than one whole-blob encoding. It scans for each part's padding
// boundary — at most one 4-character group per part can carry '=' padding,
// and that group marks the part's end — decoding each part on its own and
// appending the results, so padding in the middle of the stream never
// corrupts the parts around it.
func UnwrapChunkedText(data []byte) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		end := len(data)
		for i := 0; i+4 <= len(data); i += 4 {
			if data[i+2] == '=' || data[i+3] == '=' {
				end = i + 4
				break
			}
		}
		decoded, err := UnwrapText(data[:end])
		if err != nil {
			return nil, err
		}
		out = append(out, decoded...)
		data = data[end:]
	}
	return out, nil
}

// chunkBase64Writer independently base64-encodes each Write call, closing
// (and thus flushing any padding) the encoder after every write. This is
// what gives streaming text mode its "each frame independently base64
// encoded" property: one HTTP chunk equals one base64 part.
//
// Grounded on the improbable-eng/grpc-web base64ResponseWriter, which
// recreates its encoder after every Flush for the same reason.
type chunkBase64Writer struct {
	w io.Writer
}

// NewChunkTextWriter returns a writer whose every Write call emits one
// independently base64-encoded, self-padded chunk to w. Use this to wrap a
// streaming response's underlying writer in text mode.
func NewChunkTextWriter(w io.Writer) io.Writer {
	return &chunkBase64Writer{w: w}
}

func (c *chunkBase64Writer) Write(p []byte) (int, error) {
	var buf bytes.Buffer
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if _, err := enc.Write(p); err != nil {
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
