// Package client implements the gRPC-Web client executor (spec component
// C11): request framing, dispatch over plain net/http, HTTP-status
// classification, response deframing for unary calls, and lazy message
// iteration for server-streaming calls.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pbridge/grpcweb/grpcweb"
	"github.com/pbridge/grpcweb/rpcweb"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Conn is a gRPC-Web client bound to a single base URL.
type Conn struct {
	baseURL string
	opts    dialOptions
}

// NewConn builds a Conn that sends requests to baseURL (e.g.
// "https://api.example.com").
func NewConn(baseURL string, opts ...DialOption) *Conn {
	o := defaultDialOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Conn{baseURL: strings.TrimSuffix(baseURL, "/"), opts: o}
}

func (c *Conn) httpClient() *http.Client {
	if c.opts.httpClient != nil {
		return c.opts.httpClient
	}
	if c.opts.tlsConf != nil {
		return &http.Client{Transport: &http.Transport{TLSClientConfig: c.opts.tlsConf}}
	}
	return http.DefaultClient
}

func (c *Conn) applyCallOptions(opts []CallOption) callOptions {
	co := defaultCallOptions
	for _, o := range c.opts.defaultCallOptions {
		o(&co)
	}
	for _, o := range opts {
		o(&co)
	}
	return co
}

func contentType(co callOptions) string {
	sub := "proto"
	if co.json {
		sub = "json"
	}
	if co.text {
		return "application/grpc-web-text+" + sub
	}
	return "application/grpc-web+" + sub
}

// Invoke performs a unary call: method is resolved relative to the
// Conn's base URL, req is serialized with codec, and the deserialized
// response is returned.
func (c *Conn) Invoke(ctx context.Context, method string, req any, codec rpcweb.Codec, opts ...CallOption) (any, error) {
	co := c.applyCallOptions(opts)

	resp, err := c.do(ctx, method, req, codec, co)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if co.header != nil {
		*co.header = toMetadata(resp.Header)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read the response body")
	}
	if co.text {
		raw, err = grpcweb.UnwrapText(raw)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode the text-mode response body")
		}
	}

	frames, err := grpcweb.Unpack(raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to deframe the response body")
	}

	var payload []byte
	var haveTrailer bool
	var trailer grpcweb.Trailer
	for _, f := range frames {
		if f.IsTrailer() {
			trailer = grpcweb.ParseTrailer(f.Body)
			haveTrailer = true
			continue
		}
		payload = f.Body
	}
	if !haveTrailer {
		return nil, errors.New("response is missing its trailer frame")
	}
	if co.trailer != nil {
		*co.trailer = trailer.Metadata
	}
	if trailer.Code != codes.OK {
		return nil, status.New(trailer.Code, trailer.Message).Err()
	}

	var msg any
	if co.json {
		msg, err = codec.UnmarshalJSON(payload)
	} else {
		msg, err = codec.Unmarshal(payload)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal the response body")
	}
	return msg, nil
}

// NewServerStream issues a server-streaming call and returns a Stream
// for lazily pulling response messages. Any failure to even establish
// the call (network error, non-OK HTTP status, malformed headers)
// surfaces here, at construction time — never later from Stream.Next.
// The response's trailer is not inspected here: a non-OK grpc-status it
// carries is returned by Stream.Next when the stream reaches its trailer.
func (c *Conn) NewServerStream(ctx context.Context, method string, req any, codec rpcweb.Codec, opts ...CallOption) (*Stream, error) {
	co := c.applyCallOptions(opts)

	resp, err := c.do(ctx, method, req, codec, co)
	if err != nil {
		return nil, err
	}

	if co.header != nil {
		*co.header = toMetadata(resp.Header)
	}

	s := &Stream{body: resp.Body, codec: codec, json: co.json, trailerOut: co.trailer}
	if co.text {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, errors.Wrap(err, "failed to read the response body")
		}
		decoded, err := grpcweb.UnwrapChunkedText(raw)
		if err != nil {
			resp.Body.Close()
			return nil, errors.Wrap(err, "failed to decode the text-mode response body")
		}
		s.buffered, err = grpcweb.Unpack(decoded)
		if err != nil {
			resp.Body.Close()
			return nil, errors.Wrap(err, "failed to deframe the response body")
		}
		s.text = true
	} else {
		s.reader = grpcweb.NewFrameReader(resp.Body)
	}
	return s, nil
}

// do builds the request frame, sends it, and validates the HTTP-level
// response, leaving the (still-framed) body for the caller to read. A
// transport-level failure (the request never reached a server at all)
// surfaces as Unavailable, the same code a dead/unreachable endpoint gets
// from statusFromHTTP for a 503.
func (c *Conn) do(ctx context.Context, method string, req any, codec rpcweb.Codec, co callOptions) (*http.Response, error) {
	var body []byte
	var err error
	if co.json {
		body, err = codec.MarshalJSON(req)
	} else {
		body, err = codec.Marshal(req)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to build the request body")
	}

	framed := grpcweb.Pack(grpcweb.Frame{Type: grpcweb.PayloadFrame, Body: body})
	if co.text {
		framed = grpcweb.WrapText(framed)
	}

	ct := contentType(co)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+strings.TrimPrefix(method, "/"), bytes.NewReader(framed))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build the HTTP request")
	}
	httpReq.Header.Set("Content-Type", ct)
	httpReq.Header.Set("Accept", ct)

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		for k, vs := range md {
			for _, v := range vs {
				httpReq.Header.Add("X-"+k, v)
			}
		}
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, status.New(codes.Unavailable, errors.Wrap(err, "failed to send the request").Error()).Err()
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusFromHTTP(resp.StatusCode).Err()
	}
	return resp, nil
}

// statusFromHTTP classifies a non-200 HTTP response the way the gRPC-Web
// wire protocol's error taxonomy maps transport-level rejections onto
// gRPC codes (C11): the server never even reached a handler, so none of
// these carry a trailer.
func statusFromHTTP(code int) *status.Status {
	switch code {
	case http.StatusBadRequest:
		return status.New(codes.Internal, http.StatusText(code))
	case http.StatusUnauthorized:
		return status.New(codes.Unauthenticated, http.StatusText(code))
	case http.StatusForbidden:
		return status.New(codes.PermissionDenied, http.StatusText(code))
	case http.StatusNotFound:
		return status.New(codes.Unimplemented, http.StatusText(code))
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return status.New(codes.Unavailable, http.StatusText(code))
	default:
		return status.New(codes.Unknown, http.StatusText(code))
	}
}

func toMetadata(h http.Header) metadata.MD {
	md := metadata.MD{}
	for k, vs := range h {
		md[strings.ToLower(k)] = vs
	}
	return md
}
