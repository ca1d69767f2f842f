package rpcweb

import (
	"context"
	"fmt"

	"github.com/pbridge/grpcweb/grpcweb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
)

// ProcessUnary drives a unary method end to end (C8): deframe the
// request, deserialize it, invoke the handler, and return the response
// as a payload-frame-plus-trailer pair. A non-nil error here means the
// handler was never reached: the request itself could not be decoded
// (frame truncation, bad proto/JSON), or the descriptor's Handler is not
// a usable function — the transport adapter maps either to HTTP 422. Once the handler has run, failures never surface as a Go
// error; they become a trailer-only frame slice instead.
func ProcessUnary(ctx context.Context, d *Descriptor, framedBody []byte, md metadata.MD, json bool) ([]grpcweb.Frame, error) {
	reqBody, err := findPayload(framedBody)
	if err != nil {
		return nil, err
	}

	var req any
	if json {
		req, err = d.Input.UnmarshalJSON(reqBody)
	} else {
		req, err = d.Input.Unmarshal(reqBody)
	}
	if err != nil {
		return nil, err
	}
	if d.Validate {
		if verr := validateRequest(req); verr != nil {
			return []grpcweb.Frame{trailerFrameFor(d, verr)}, nil
		}
	}

	handler, err := resolveHandler(d.Handler)
	if err != nil {
		return nil, err
	}

	result, callErr := invoke(handler, ctx, req, &Call{ctx: ctx, MD: md})
	if callErr != nil {
		return []grpcweb.Frame{trailerFrameFor(d, callErr)}, nil
	}

	var respBody []byte
	if json {
		respBody, err = d.Output.MarshalJSON(result)
	} else {
		respBody, err = d.Output.Marshal(result)
	}
	if err != nil {
		return []grpcweb.Frame{trailerFrameFor(d, err)}, nil
	}

	return []grpcweb.Frame{
		{Type: grpcweb.PayloadFrame, Body: respBody},
		{Type: grpcweb.TrailerFrame, Body: grpcweb.EncodeTrailer(grpcweb.Trailer{Code: codes.OK, Message: "OK"})},
	}, nil
}

// ProcessStream drives a server-streaming method (C9): deframe and
// deserialize the request exactly as ProcessUnary does, invoke the
// handler to obtain a MessageSequence, and return a FrameSequence the
// transport adapter can pull frames from one at a time. As with
// ProcessUnary, a non-nil error return means the request could not be
// decoded or the Handler is not a usable function; every handler-side
// failure (including a failure to even
// start the stream) is instead represented in the FrameSequence's
// guaranteed terminal trailer.
func ProcessStream(ctx context.Context, d *Descriptor, framedBody []byte, md metadata.MD, json bool) (*FrameSequence, error) {
	reqBody, err := findPayload(framedBody)
	if err != nil {
		return nil, err
	}

	var req any
	if json {
		req, err = d.Input.UnmarshalJSON(reqBody)
	} else {
		req, err = d.Input.Unmarshal(reqBody)
	}
	if err != nil {
		return nil, err
	}
	if d.Validate {
		if verr := validateRequest(req); verr != nil {
			return &FrameSequence{startErr: verr, desc: d}, nil
		}
	}

	handler, err := resolveHandler(d.Handler)
	if err != nil {
		return nil, err
	}

	result, callErr := invoke(handler, ctx, req, &Call{ctx: ctx, MD: md})
	if callErr != nil {
		return &FrameSequence{startErr: callErr, desc: d}, nil
	}
	seq, ok := result.(MessageSequence)
	if !ok {
		return &FrameSequence{startErr: fmt.Errorf("rpcweb: stream handler returned %T, not a MessageSequence", result), desc: d}, nil
	}
	return &FrameSequence{msgs: seq, desc: d, json: json}, nil
}

func findPayload(framedBody []byte) ([]byte, error) {
	frames, err := grpcweb.Unpack(framedBody)
	if err != nil {
		return nil, newParseError(err)
	}
	var payload []byte
	found := false
	for _, f := range frames {
		if f.IsTrailer() {
			return nil, newParseError(fmt.Errorf("unexpected trailer frame in request"))
		}
		if found {
			return nil, newParseError(fmt.Errorf("request carries more than one payload frame"))
		}
		payload = f.Body
		found = true
	}
	if !found {
		return nil, newParseError(fmt.Errorf("request carries no payload frame"))
	}
	return payload, nil
}

func trailerFrameFor(d *Descriptor, err error) grpcweb.Frame {
	code, msg, md := classify(err)
	if code == codes.Unknown && d != nil && d.observerOf() != nil {
		d.observerOf()(err)
	}
	return grpcweb.Frame{Type: grpcweb.TrailerFrame, Body: grpcweb.EncodeTrailer(grpcweb.Trailer{Code: code, Message: msg, Metadata: md})}
}

// FrameSequence streams response frames for a server-streaming call. Next
// returns the next frame; done is true when that frame is the stream's
// single terminal trailer. Once the trailer has been returned, further
// calls return a zero Frame with done true.
type FrameSequence struct {
	msgs     MessageSequence
	desc     *Descriptor
	json     bool
	finished bool
	startErr error
}

func (fs *FrameSequence) Next(ctx context.Context) (grpcweb.Frame, bool) {
	if fs.finished {
		return grpcweb.Frame{}, true
	}
	if fs.startErr != nil {
		fs.finished = true
		return trailerFrameFor(fs.desc, fs.startErr), true
	}

	msg, ok, err := fs.msgs.Next(ctx)
	if err != nil {
		fs.finished = true
		return trailerFrameFor(fs.desc, err), true
	}
	if !ok {
		fs.finished = true
		return grpcweb.Frame{Type: grpcweb.TrailerFrame, Body: grpcweb.EncodeTrailer(grpcweb.Trailer{Code: codes.OK, Message: "OK"})}, true
	}

	var body []byte
	if fs.json {
		body, err = fs.desc.Output.MarshalJSON(msg)
	} else {
		body, err = fs.desc.Output.Marshal(msg)
	}
	if err != nil {
		fs.finished = true
		return trailerFrameFor(fs.desc, err), true
	}
	return grpcweb.Frame{Type: grpcweb.PayloadFrame, Body: body}, false
}

func (d *Descriptor) observerOf() func(error) {
	if d == nil || d.owner == nil {
		return nil
	}
	return d.owner.ErrObserver
}
