package rpcweb

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/grpc/metadata"
)

// Call carries the per-invocation context a handler may optionally
// accept as its second argument: inbound metadata and the request's
// context.Context.
type Call struct {
	ctx context.Context
	MD  metadata.MD
}

func (c *Call) Context() context.Context { return c.ctx }

// MessageSequence is a lazy, single-consumer stream of response
// messages for a server-streaming method (C9). Next returns the next
// message; ok is false at a clean end (err nil) or at a terminal
// failure (err non-nil). Once ok is false, Next must not be called
// again.
type MessageSequence interface {
	Next(ctx context.Context) (msg any, ok bool, err error)
}

// sliceSequence adapts a pre-built slice of messages to MessageSequence;
// handy for handlers that build their whole response set up front.
type sliceSequence struct {
	msgs []any
	i    int
}

// SliceSequence returns a MessageSequence over a fixed, already-known
// list of messages.
func SliceSequence(msgs ...any) MessageSequence {
	return &sliceSequence{msgs: msgs}
}

func (s *sliceSequence) Next(ctx context.Context) (any, bool, error) {
	if s.i >= len(s.msgs) {
		return nil, false, nil
	}
	m := s.msgs[s.i]
	s.i++
	return m, true, nil
}

// ChanSequence adapts a channel of messages (closed to signal end) to
// MessageSequence, for handlers that produce messages from a goroutine.
// If errc receives a non-nil error before the channel closes, that error
// terminates the sequence.
type ChanSequence struct {
	Msgs <-chan any
	Errc <-chan error
}

func (s *ChanSequence) Next(ctx context.Context) (any, bool, error) {
	// A pending message always wins over a pending error: the producer
	// may have queued both before closing up, and callers expect every
	// already-sent message delivered before the stream ends.
	select {
	case m, ok := <-s.Msgs:
		if ok {
			return m, true, nil
		}
		return s.drainErr()
	default:
	}

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case err := <-s.Errc:
		if err != nil {
			return nil, false, err
		}
		return s.drainMsgsOnce()
	case m, ok := <-s.Msgs:
		if !ok {
			return s.drainErr()
		}
		return m, true, nil
	}
}

func (s *ChanSequence) drainErr() (any, bool, error) {
	select {
	case err := <-s.Errc:
		return nil, false, err
	default:
		return nil, false, nil
	}
}

func (s *ChanSequence) drainMsgsOnce() (any, bool, error) {
	m, ok := <-s.Msgs
	if !ok {
		return nil, false, nil
	}
	return m, true, nil
}

// resolveHandler implements the service-instance strategy: raw is either
// already the handler to call, or a zero-argument constructor that
// produces a fresh one for this invocation (so per-call state never
// leaks between requests, matching the "no shared mutable state across
// requests" concurrency rule). The arity/shape check runs once per
// resolution; the caller is expected to cache the result on the
// Descriptor if it resolves many calls to the same method.
func resolveHandler(raw any) (reflect.Value, error) {
	v := reflect.ValueOf(raw)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return reflect.Value{}, fmt.Errorf("rpcweb: handler must be a func, got %s", t)
	}
	if t.NumIn() == 0 && t.NumOut() == 1 {
		out := v.Call(nil)[0]
		if out.Kind() == reflect.Interface {
			out = out.Elem()
		}
		if out.Kind() != reflect.Func {
			return reflect.Value{}, fmt.Errorf("rpcweb: constructor must return a func, got %s", out.Type())
		}
		return out, nil
	}
	return v, nil
}

// invoke calls handler with (ctx, req) or (ctx, req, call) depending on
// its declared arity, returning its first return value and error.
func invoke(handler reflect.Value, ctx context.Context, req any, call *Call) (any, error) {
	t := handler.Type()
	args := []reflect.Value{reflect.ValueOf(ctx), reflectReqValue(t, req)}
	switch t.NumIn() {
	case 2:
		// (ctx, req)
	case 3:
		args = append(args, reflect.ValueOf(call))
	default:
		return nil, fmt.Errorf("rpcweb: handler has unsupported arity %d", t.NumIn())
	}
	out := handler.Call(args)
	if len(out) != 2 {
		return nil, fmt.Errorf("rpcweb: handler must return (result, error), got %d values", len(out))
	}
	var err error
	if e, ok := out[1].Interface().(error); ok {
		err = e
	}
	return out[0].Interface(), err
}

func reflectReqValue(handlerType reflect.Type, req any) reflect.Value {
	if req == nil && handlerType.NumIn() > 1 {
		return reflect.Zero(handlerType.In(1))
	}
	return reflect.ValueOf(req)
}
