package client

import (
	"crypto/tls"
	"net/http"

	"google.golang.org/grpc/metadata"
)

var defaultDialOptions = dialOptions{}

type dialOptions struct {
	defaultCallOptions []CallOption
	httpClient         *http.Client
	tlsConf            *tls.Config
}

// DialOption configures a Conn at construction time.
type DialOption func(*dialOptions)

// WithDefaultCallOptions applies opts to every call made on the Conn,
// ahead of any CallOptions passed to the call itself.
func WithDefaultCallOptions(opts ...CallOption) DialOption {
	return func(o *dialOptions) { o.defaultCallOptions = opts }
}

// WithHTTPClient overrides the *http.Client used to send requests.
func WithHTTPClient(c *http.Client) DialOption {
	return func(o *dialOptions) { o.httpClient = c }
}

// WithTLSConfig sets the TLS configuration for the default HTTP client.
func WithTLSConfig(conf *tls.Config) DialOption {
	return func(o *dialOptions) { o.tlsConf = conf }
}

var defaultCallOptions = callOptions{}

type callOptions struct {
	json    bool
	text    bool
	header  *metadata.MD
	trailer *metadata.MD
}

// CallOption configures a single Invoke/NewServerStream call.
type CallOption func(*callOptions)

// WithJSON selects the grpc-web+json encoding instead of the default
// grpc-web+proto.
func WithJSON() CallOption {
	return func(o *callOptions) { o.json = true }
}

// WithTextMode selects the grpc-web-text content type (base64 bodies).
func WithTextMode() CallOption {
	return func(o *callOptions) { o.text = true }
}

// Header captures the response header metadata into h.
func Header(h *metadata.MD) CallOption {
	return func(o *callOptions) {
		*h = metadata.MD{}
		o.header = h
	}
}

// Trailer captures the response trailer metadata into t.
func Trailer(t *metadata.MD) CallOption {
	return func(o *callOptions) {
		*t = metadata.MD{}
		o.trailer = t
	}
}
