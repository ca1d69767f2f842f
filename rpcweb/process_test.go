package rpcweb

import (
	"context"
	"errors"
	"testing"

	"github.com/pbridge/grpcweb/grpcweb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
)

// echoCodec treats messages as plain strings, so process_test can drive
// ProcessUnary/ProcessStream without a real protobuf type in play.
type echoCodec struct{}

func (echoCodec) Unmarshal(data []byte) (any, error)     { return string(data), nil }
func (echoCodec) Marshal(msg any) ([]byte, error)        { return []byte(msg.(string)), nil }
func (echoCodec) UnmarshalJSON(data []byte) (any, error) { return string(data), nil }
func (echoCodec) MarshalJSON(msg any) ([]byte, error)    { return []byte(msg.(string)), nil }

func frameRequest(t *testing.T, body string) []byte {
	t.Helper()
	return grpcweb.Pack(grpcweb.Frame{Type: grpcweb.PayloadFrame, Body: []byte(body)})
}

func TestProcessUnarySuccess(t *testing.T) {
	d := &Descriptor{
		Name:   "Echo",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any) (any, error) {
			return req.(string) + "!", nil
		},
	}

	frames, err := ProcessUnary(context.Background(), d, frameRequest(t, "hi"), nil, false)
	if err != nil {
		t.Fatalf("ProcessUnary: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Type != grpcweb.PayloadFrame || string(frames[0].Body) != "hi!" {
		t.Errorf("payload frame = %+v", frames[0])
	}
	tr := grpcweb.ParseTrailer(frames[1].Body)
	if tr.Code != codes.OK {
		t.Errorf("trailer code = %v, want OK", tr.Code)
	}
}

func TestProcessUnaryWithCallArity(t *testing.T) {
	d := &Descriptor{
		Name:   "WithMD",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any, call *Call) (any, error) {
			return req.(string) + "|" + call.MD.Get("x-tenant")[0], nil
		},
	}

	md := metadata.MD{"x-tenant": []string{"acme"}}
	frames, err := ProcessUnary(context.Background(), d, frameRequest(t, "req"), md, false)
	if err != nil {
		t.Fatalf("ProcessUnary: %v", err)
	}
	if string(frames[0].Body) != "req|acme" {
		t.Errorf("payload = %q", frames[0].Body)
	}
}

func TestProcessUnaryStatusCarryingFailure(t *testing.T) {
	d := &Descriptor{
		Name:   "Fail",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any) (any, error) {
			return nil, NewError(codes.NotFound, "no such thing")
		},
	}

	frames, err := ProcessUnary(context.Background(), d, frameRequest(t, "x"), nil, false)
	if err != nil {
		t.Fatalf("ProcessUnary: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected trailer-only response, got %d frames", len(frames))
	}
	tr := grpcweb.ParseTrailer(frames[0].Body)
	if tr.Code != codes.NotFound || tr.Message != "no such thing" {
		t.Errorf("trailer = %+v", tr)
	}
}

func TestProcessUnaryUnexpectedFailureInvokesObserver(t *testing.T) {
	var observed error
	svc := NewService("Svc")
	d := &Descriptor{
		Name:   "Boom",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any) (any, error) {
			return nil, errors.New("kaboom")
		},
	}
	svc.ErrObserver = func(err error) { observed = err }
	svc.AddMethod(d)

	frames, err := ProcessUnary(context.Background(), d, frameRequest(t, "x"), nil, false)
	if err != nil {
		t.Fatalf("ProcessUnary: %v", err)
	}
	tr := grpcweb.ParseTrailer(frames[0].Body)
	if tr.Code != codes.Unknown {
		t.Errorf("code = %v, want Unknown", tr.Code)
	}
	if observed == nil {
		t.Error("expected error observer to be invoked")
	}
}

func TestProcessUnaryConstructorHandler(t *testing.T) {
	calls := 0
	d := &Descriptor{
		Name:   "Fresh",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func() any {
			calls++
			return func(ctx context.Context, req any) (any, error) {
				return req, nil
			}
		},
	}

	if _, err := ProcessUnary(context.Background(), d, frameRequest(t, "a"), nil, false); err != nil {
		t.Fatalf("ProcessUnary: %v", err)
	}
	if _, err := ProcessUnary(context.Background(), d, frameRequest(t, "b"), nil, false); err != nil {
		t.Fatalf("ProcessUnary: %v", err)
	}
	if calls != 2 {
		t.Errorf("constructor invoked %d times, want 2 (fresh instance per call)", calls)
	}
}

func TestProcessUnaryMalformedRequestIsParseError(t *testing.T) {
	d := &Descriptor{Name: "Echo", Input: echoCodec{}, Output: echoCodec{}}
	_, err := ProcessUnary(context.Background(), d, []byte{0x00, 0x00}, nil, false)
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Errorf("expected *ParseError, got %T", err)
	}
}

type validatedRequest struct {
	Name string `validate:"required"`
}

type structCodec struct{}

func (structCodec) Unmarshal(data []byte) (any, error) {
	return &validatedRequest{Name: string(data)}, nil
}
func (structCodec) Marshal(msg any) ([]byte, error)        { return []byte(msg.(string)), nil }
func (structCodec) UnmarshalJSON(data []byte) (any, error) { return structCodec{}.Unmarshal(data) }
func (structCodec) MarshalJSON(msg any) ([]byte, error)    { return structCodec{}.Marshal(msg) }

func TestProcessUnaryValidationRejectsInvalidRequest(t *testing.T) {
	d := &Descriptor{
		Name:     "Validated",
		Input:    structCodec{},
		Output:   echoCodec{},
		Validate: true,
		Handler: func(ctx context.Context, req any) (any, error) {
			t.Fatal("handler must not run when validation fails")
			return nil, nil
		},
	}

	frames, err := ProcessUnary(context.Background(), d, frameRequest(t, ""), nil, false)
	if err != nil {
		t.Fatalf("ProcessUnary: %v", err)
	}
	tr := grpcweb.ParseTrailer(frames[0].Body)
	if tr.Code != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", tr.Code)
	}
}

func TestProcessUnaryValidationAcceptsValidRequest(t *testing.T) {
	d := &Descriptor{
		Name:     "Validated",
		Input:    structCodec{},
		Output:   echoCodec{},
		Validate: true,
		Handler: func(ctx context.Context, req any) (any, error) {
			return req.(*validatedRequest).Name, nil
		},
	}

	frames, err := ProcessUnary(context.Background(), d, frameRequest(t, "alice"), nil, false)
	if err != nil {
		t.Fatalf("ProcessUnary: %v", err)
	}
	if string(frames[0].Body) != "alice" {
		t.Errorf("payload = %q", frames[0].Body)
	}
}

func TestProcessStreamSuccess(t *testing.T) {
	d := &Descriptor{
		Name:   "Stream",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any) (any, error) {
			return SliceSequence("a", "b", "c"), nil
		},
	}

	fs, err := ProcessStream(context.Background(), d, frameRequest(t, "go"), nil, false)
	if err != nil {
		t.Fatalf("ProcessStream: %v", err)
	}

	var payloads []string
	for {
		f, done := fs.Next(context.Background())
		if done {
			tr := grpcweb.ParseTrailer(f.Body)
			if tr.Code != codes.OK {
				t.Errorf("terminal trailer code = %v, want OK", tr.Code)
			}
			break
		}
		payloads = append(payloads, string(f.Body))
	}
	if len(payloads) != 3 || payloads[0] != "a" || payloads[2] != "c" {
		t.Errorf("payloads = %v", payloads)
	}
}

func TestProcessStreamMidStreamFailure(t *testing.T) {
	msgs := make(chan any, 2)
	errc := make(chan error, 1)
	msgs <- "first"
	errc <- NewError(codes.Aborted, "stream broke")

	d := &Descriptor{
		Name:   "Stream",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any) (any, error) {
			return &ChanSequence{Msgs: msgs, Errc: errc}, nil
		},
	}

	fs, err := ProcessStream(context.Background(), d, frameRequest(t, "go"), nil, false)
	if err != nil {
		t.Fatalf("ProcessStream: %v", err)
	}

	f, done := fs.Next(context.Background())
	if done {
		t.Fatalf("expected a payload frame first, got terminal frame")
	}
	if string(f.Body) != "first" {
		t.Errorf("first payload = %q", f.Body)
	}

	f, done = fs.Next(context.Background())
	if !done {
		t.Fatal("expected terminal frame after the mid-stream failure")
	}
	tr := grpcweb.ParseTrailer(f.Body)
	if tr.Code != codes.Aborted || tr.Message != "stream broke" {
		t.Errorf("trailer = %+v", tr)
	}
}

func TestProcessStreamHandlerFailsBeforeFirstMessage(t *testing.T) {
	d := &Descriptor{
		Name:   "Stream",
		Input:  echoCodec{},
		Output: echoCodec{},
		Handler: func(ctx context.Context, req any) (any, error) {
			return nil, NewError(codes.FailedPrecondition, "cannot start")
		},
	}

	fs, err := ProcessStream(context.Background(), d, frameRequest(t, "go"), nil, false)
	if err != nil {
		t.Fatalf("ProcessStream: %v", err)
	}
	f, done := fs.Next(context.Background())
	if !done {
		t.Fatal("expected an immediate terminal trailer")
	}
	tr := grpcweb.ParseTrailer(f.Body)
	if tr.Code != codes.FailedPrecondition {
		t.Errorf("code = %v", tr.Code)
	}
}
