// Command grpcwebdemo runs a single example service — Greeter, with a
// unary SayHello and a server-streaming SayHelloRepeatedly — behind the
// gRPC-Web transport adapter. It is a wiring example, not a general
// command-line tool: no subcommands, no flags beyond -addr.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/pbridge/grpcweb/rpcweb"
	"github.com/pbridge/grpcweb/transport"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func stringCodec() rpcweb.ProtoCodec {
	return rpcweb.ProtoCodec{New: func() proto.Message { return &wrapperspb.StringValue{} }}
}

func sayHello(ctx context.Context, req any) (any, error) {
	name := req.(*wrapperspb.StringValue).GetValue()
	if name == "" {
		return nil, rpcweb.NewError(codes.InvalidArgument, "name must not be empty")
	}
	return wrapperspb.String(fmt.Sprintf("Hello, %s!", name)), nil
}

func sayHelloRepeatedly(ctx context.Context, req any) (any, error) {
	name := req.(*wrapperspb.StringValue).GetValue()
	msgs := make([]any, 0, 3)
	for i := 1; i <= 3; i++ {
		msgs = append(msgs, wrapperspb.String(fmt.Sprintf("Hello #%d, %s!", i, name)))
	}
	return rpcweb.SliceSequence(msgs...), nil
}

func newGreeterService() *rpcweb.Service {
	svc := rpcweb.NewService("Greeter")
	svc.ErrObserver = func(err error) {
		log.Printf("Warning: unexpected handler failure: %v", err)
	}
	svc.AddMethod(&rpcweb.Descriptor{
		Name:    "SayHello",
		Input:   stringCodec(),
		Output:  stringCodec(),
		Handler: sayHello,
	})
	svc.AddMethod(&rpcweb.Descriptor{
		Name:    "SayHelloRepeatedly",
		Stream:  true,
		Input:   stringCodec(),
		Output:  stringCodec(),
		Handler: sayHelloRepeatedly,
	})
	return svc
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	h := transport.NewHandler(newGreeterService())
	h.Timeout = 15 * time.Second

	mux := http.NewServeMux()
	mux.Handle("/greeter.Greeter/", http.StripPrefix("/greeter.Greeter", h))

	log.Printf("grpcwebdemo listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
