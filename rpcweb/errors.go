// Package rpcweb drives RPC invocation: method resolution, arity dispatch,
// message (de)serialization, and the unary/streaming response processors
// (spec components C5–C9). It has no knowledge of HTTP; that lives in
// package transport.
package rpcweb

import (
	"fmt"
	"reflect"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
)

// Error is a status-carrying failure: a handler (or the processor itself)
// can return one of these to control the exact gRPC code, message, and
// trailer metadata the caller sees.
type Error struct {
	Code     codes.Code
	Message  string
	Metadata metadata.MD
}

// NewError builds a status-carrying error with no metadata.
func NewError(code codes.Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf is NewError with fmt.Sprintf-style formatting.
func NewErrorf(code codes.Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata attaches trailer metadata and returns e for chaining.
func (e *Error) WithMetadata(md metadata.MD) *Error {
	e.Metadata = md
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ParseError marks a failure in decoding/deserializing a request or
// response payload — frame truncation, base64 failure, proto/JSON parse
// errors. The transport adapter maps it to HTTP 422.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "rpcweb: parse error: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

func newParseError(err error) error {
	return &ParseError{Err: err}
}

// classify turns any handler-returned error into a trailer-ready
// (code, message, metadata) triple, per spec §4.8/§4.9/§7: a *Error
// preserves its own fields; anything else becomes Unknown with
// "<type>: <message>".
func classify(err error) (codes.Code, string, metadata.MD) {
	if se, ok := err.(*Error); ok {
		return se.Code, se.Message, se.Metadata
	}
	return codes.Unknown, fmt.Sprintf("%s: %s", typeName(err), err.Error()), nil
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}
