// Package transport adapts package rpcweb's method processors onto
// net/http: request validation, metadata extraction, response framing,
// and the streaming delivery strategies (hijacked socket vs chunked
// fallback) that spec component C10 describes.
package transport

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pbridge/grpcweb/grpcweb"
	"github.com/pbridge/grpcweb/rpcweb"
	"go.uber.org/atomic"
	"google.golang.org/grpc/metadata"
)

const defaultRequestTimeout = 30 * time.Second

// ErrorObserver is invoked for any unexpected (non status-carrying)
// handler failure, before the trailer frame reporting that failure is
// written. It never changes what the caller sees; it exists purely so the
// host process can log or alert.
type ErrorObserver func(err error)

// Handler serves gRPC-Web requests for a single rpcweb.Service, routing
// on the last path segment as the method key.
type Handler struct {
	Service *rpcweb.Service
	// Timeout bounds how long a single call may run; zero uses
	// defaultRequestTimeout.
	Timeout time.Duration
}

// NewHandler builds a Handler over svc.
func NewHandler(svc *rpcweb.Service) *Handler {
	return &Handler{Service: svc}
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout == 0 {
		return defaultRequestTimeout
	}
	return h.Timeout
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		// X-Cascade signals a reverse proxy in front of this handler
		// that the request did not match a gRPC-Web route at all, so
		// it can fall through to another handler instead of treating
		// this as a hard failure. Mirrors the grpc-web-ruby Rack idiom:
		// not-found, not method-not-allowed.
		w.Header().Set("X-Cascade", "pass")
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	negotiated, err := grpcweb.Negotiate(r.Header.Get("Content-Type"), r.Header.Get("Accept"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	methodKey := lastPathSegment(r.URL.Path)
	desc, ok := h.Service.Resolve(methodKey)
	if !ok {
		// Same route-not-found signal as a non-POST request: an
		// unresolvable method is not a call the service knows how to
		// accept at all, so it gets no trailer, just 404 + X-Cascade.
		// A client classifies 404 as Unimplemented.
		w.Header().Set("X-Cascade", "pass")
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	rawBody, err := readAll(r, negotiated)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	md := extractMetadata(r.Header)

	if desc.Stream {
		h.serveStream(ctx, w, desc, rawBody, md, negotiated)
		return
	}
	h.serveUnary(ctx, w, desc, rawBody, md, negotiated)
}

func (h *Handler) serveUnary(ctx context.Context, w http.ResponseWriter, desc *rpcweb.Descriptor, body []byte, md metadata.MD, n grpcweb.Negotiated) {
	frames, err := rpcweb.ProcessUnary(ctx, desc, body, md, n.Encoding == grpcweb.EncodingJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", n.ResponseContentType)
	w.WriteHeader(http.StatusOK)

	// A unary text-mode body is base64-encoded as one blob, not per frame.
	var out []byte
	for _, f := range frames {
		out = append(out, grpcweb.Pack(f)...)
	}
	if n.Text {
		out = grpcweb.WrapText(out)
	}
	_, _ = w.Write(out)
}

// serveStream drives a server-streaming call, preferring a hijacked raw
// socket so each response frame reaches the wire the moment it is
// produced; when the underlying ResponseWriter cannot be hijacked it
// falls back to the standard chunked-transfer response.
func (h *Handler) serveStream(ctx context.Context, w http.ResponseWriter, desc *rpcweb.Descriptor, body []byte, md metadata.MD, n grpcweb.Negotiated) {
	seq, err := rpcweb.ProcessStream(ctx, desc, body, md, n.Encoding == grpcweb.EncodingJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if hj, ok := w.(http.Hijacker); ok {
		h.serveStreamHijacked(ctx, w, hj, seq, n)
		return
	}
	h.serveStreamChunked(ctx, w, seq, n)
}

func (h *Handler) serveStreamChunked(ctx context.Context, w http.ResponseWriter, seq *rpcweb.FrameSequence, n grpcweb.Negotiated) {
	w.Header().Set("Content-Type", n.ResponseContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	fw := newFrameWriter(w, n.Text)
	defer fw.Close()
	for {
		frame, done := seq.Next(ctx)
		if writeErr := fw.Write(frame); writeErr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if done {
			return
		}
	}
}

// streamState tracks the C10 delivery state machine:
// Negotiated -> HeadersSent -> (PayloadSent)* -> TrailerSent -> Closed.
type streamState int32

const (
	stateNegotiated streamState = iota
	stateHeadersSent
	statePayloadSent
	stateTrailerSent
	stateClosed
)

func (h *Handler) serveStreamHijacked(ctx context.Context, w http.ResponseWriter, hj http.Hijacker, seq *rpcweb.FrameSequence, n grpcweb.Negotiated) {
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		log.Printf("transport: hijack failed, falling back to chunked response: %v", err)
		h.serveStreamChunked(ctx, w, seq, n)
		return
	}
	defer conn.Close()

	state := atomic.NewInt32(int32(stateNegotiated))

	if err := writeChunkedHeaders(bufrw.Writer, n.ResponseContentType); err != nil {
		return
	}
	state.Store(int32(stateHeadersSent))
	if err := bufrw.Flush(); err != nil {
		return
	}

	fw := newFrameWriter(chunkedBodyWriter{bufrw.Writer}, n.Text)
	for {
		frame, done := seq.Next(ctx)
		if writeErr := fw.Write(frame); writeErr != nil {
			// Best-effort cancellation: the client is gone, there is
			// nothing further to report.
			return
		}
		if err := bufrw.Flush(); err != nil {
			return
		}
		if frame.IsTrailer() {
			state.Store(int32(stateTrailerSent))
		} else {
			state.Store(int32(statePayloadSent))
		}
		if done {
			break
		}
	}
	fw.Close()
	_, _ = bufrw.Write([]byte("0\r\n\r\n"))
	_ = bufrw.Flush()
	state.Store(int32(stateClosed))
}

// writeChunkedHeaders writes a minimal HTTP/1.1 response line and headers
// for a chunked-transfer body over a hijacked connection. Matches the
// header set serveStreamChunked sends through http.ResponseWriter, so the
// two delivery strategies produce identical byte-level output.
func writeChunkedHeaders(w *bufio.Writer, contentType string) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 200 OK\r\nContent-Type: %s\r\nCache-Control: no-cache, no-store, must-revalidate\r\nConnection: keep-alive\r\nX-Accel-Buffering: no\r\nTransfer-Encoding: chunked\r\n\r\n", contentType)
	return err
}

// chunkedBodyWriter wraps raw bytes into HTTP/1.1 chunked-transfer
// framing as they are written to a hijacked connection.
type chunkedBodyWriter struct {
	w *bufio.Writer
}

func (c chunkedBodyWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(c.w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := c.w.Write(p); err != nil {
		return 0, err
	}
	if _, err := c.w.Write([]byte("\r\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}

func lastPathSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// extractMetadata recovers request metadata from arbitrary HTTP headers:
// every header outside the transport-mechanics set (content negotiation,
// connection handling, the x-grpc-web-* protocol headers) becomes a
// lowercased metadata key. A name ending in "-bin" marks a base64-encoded
// binary value; it is decoded before being stored, matching the
// grpc-metadata "-bin" suffix convention.
func extractMetadata(h http.Header) metadata.MD {
	md := metadata.MD{}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		lower := strings.ToLower(k)
		if strings.HasPrefix(lower, "x-grpc-web") || isReservedHeader(lower) {
			continue
		}
		for _, v := range h[k] {
			if strings.HasSuffix(lower, "-bin") {
				decoded, err := base64.StdEncoding.DecodeString(v)
				if err != nil {
					continue
				}
				md.Append(lower, string(decoded))
				continue
			}
			md.Append(lower, v)
		}
	}
	return md
}

func isReservedHeader(lower string) bool {
	switch lower {
	case "content-type", "content-length", "accept", "accept-encoding", "connection", "host", "user-agent":
		return true
	default:
		return false
	}
}

func readAll(r *http.Request, n grpcweb.Negotiated) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if !n.Text {
		return body, nil
	}
	return grpcweb.UnwrapText(body)
}

type writer interface {
	Write(p []byte) (int, error)
}

// frameWriter writes grpcweb frames to an underlying io.Writer, applying
// the text-mode base64 transform when negotiated. Delegates the actual
// frame encoding to grpcweb.FrameWriter, wrapping it around a per-frame
// base64 encoder in text mode and around the raw writer otherwise.
type frameWriter struct {
	fw *grpcweb.FrameWriter
}

func newFrameWriter(w writer, text bool) *frameWriter {
	if text {
		return &frameWriter{fw: grpcweb.NewFrameWriter(grpcweb.NewChunkTextWriter(w))}
	}
	return &frameWriter{fw: grpcweb.NewFrameWriter(w)}
}

func (fw *frameWriter) Write(f grpcweb.Frame) error {
	return fw.fw.WriteFrame(f)
}

func (fw *frameWriter) Close() {}
