package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pbridge/grpcweb/grpcweb"
	"github.com/pbridge/grpcweb/rpcweb"
	"google.golang.org/grpc/codes"
)

type echoCodec struct{}

func (echoCodec) Unmarshal(data []byte) (any, error)     { return string(data), nil }
func (echoCodec) Marshal(msg any) ([]byte, error)        { return []byte(msg.(string)), nil }
func (echoCodec) UnmarshalJSON(data []byte) (any, error) { return string(data), nil }
func (echoCodec) MarshalJSON(msg any) ([]byte, error)    { return []byte(msg.(string)), nil }

func newTestService() *rpcweb.Service {
	svc := rpcweb.NewService("Echo")
	svc.AddMethod(&rpcweb.Descriptor{
		Name:   "SayHello",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any) (any, error) {
			return req.(string) + " back", nil
		},
	})
	svc.AddMethod(&rpcweb.Descriptor{
		Name:   "ListItems",
		Stream: true,
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any) (any, error) {
			return rpcweb.SliceSequence("a", "b"), nil
		},
	})
	return svc
}

func frameBody(s string) []byte {
	return grpcweb.Pack(grpcweb.Frame{Type: grpcweb.PayloadFrame, Body: []byte(s)})
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	h := NewHandler(newTestService())
	req := httptest.NewRequest(http.MethodGet, "/svc/SayHello", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec.Header().Get("X-Cascade") != "pass" {
		t.Error("expected X-Cascade: pass header")
	}
}

func TestServeHTTPRejectsUnsupportedMediaType(t *testing.T) {
	h := NewHandler(newTestService())
	req := httptest.NewRequest(http.MethodPost, "/svc/SayHello", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestServeHTTPUnaryBinarySuccess(t *testing.T) {
	h := NewHandler(newTestService())
	req := httptest.NewRequest(http.MethodPost, "/svc/SayHello", strings.NewReader(string(frameBody("hi"))))
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	frames, err := grpcweb.Unpack(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0].Body) != "hi back" {
		t.Errorf("payload = %q", frames[0].Body)
	}
	tr := grpcweb.ParseTrailer(frames[1].Body)
	if tr.Code != codes.OK {
		t.Errorf("trailer code = %v", tr.Code)
	}
}

func TestServeHTTPUnaryTextMode(t *testing.T) {
	h := NewHandler(newTestService())
	wrapped := grpcweb.WrapText(frameBody("x"))
	req := httptest.NewRequest(http.MethodPost, "/svc/SayHello", strings.NewReader(string(wrapped)))
	req.Header.Set("Content-Type", "application/grpc-web-text+proto")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	unwrapped, err := grpcweb.UnwrapText(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("UnwrapText: %v", err)
	}
	frames, err := grpcweb.Unpack(unwrapped)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if string(frames[0].Body) != "x back" {
		t.Errorf("payload = %q", frames[0].Body)
	}
}

func TestServeHTTPUnknownMethodYieldsNotFound(t *testing.T) {
	h := NewHandler(newTestService())
	req := httptest.NewRequest(http.MethodPost, "/svc/Nope", strings.NewReader(string(frameBody("x"))))
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Header().Get("X-Cascade") != "pass" {
		t.Error("expected X-Cascade: pass header")
	}
}

func TestServeHTTPMalformedBodyYields422(t *testing.T) {
	h := NewHandler(newTestService())
	req := httptest.NewRequest(http.MethodPost, "/svc/SayHello", strings.NewReader("\x00\x00\x00\x00\xff"))
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestServeHTTPStreamingChunkedFallback(t *testing.T) {
	// httptest.ResponseRecorder does not implement http.Hijacker, so this
	// exercises the chunked-response fallback path.
	h := NewHandler(newTestService())
	req := httptest.NewRequest(http.MethodPost, "/svc/ListItems", strings.NewReader(string(frameBody("go"))))
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("Connection"); got != "keep-alive" {
		t.Errorf("Connection = %q", got)
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q", got)
	}
	frames, err := grpcweb.Unpack(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 2 payloads + trailer, got %d frames", len(frames))
	}
	if string(frames[0].Body) != "a" || string(frames[1].Body) != "b" {
		t.Errorf("payloads = %q, %q", frames[0].Body, frames[1].Body)
	}
	if !frames[2].IsTrailer() {
		t.Error("final frame must be the trailer")
	}
}

func TestExtractMetadataSkipsReservedAndMetaHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/grpc-web+proto")
	h.Set("X-Grpc-Web", "1")
	h.Set("X-Tenant", "acme")
	h.Set("Authorization-Bin", "YWJj") // base64("abc")

	md := extractMetadata(h)
	if len(md.Get("content-type")) != 0 {
		t.Error("content-type must not be forwarded as metadata")
	}
	if len(md.Get("x-grpc-web")) != 0 {
		t.Error("x-grpc-web must not be forwarded as metadata")
	}
	if got := md.Get("x-tenant"); len(got) != 1 || got[0] != "acme" {
		t.Errorf("x-tenant = %v", got)
	}
	if got := md.Get("authorization-bin"); len(got) != 1 || got[0] != "abc" {
		t.Errorf("authorization-bin = %v, want decoded \"abc\"", got)
	}
}

func TestLastPathSegment(t *testing.T) {
	tests := map[string]string{
		"/svc/SayHello":  "SayHello",
		"/svc/SayHello/": "SayHello",
		"SayHello":       "SayHello",
	}
	for in, want := range tests {
		if got := lastPathSegment(in); got != want {
			t.Errorf("lastPathSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
