package grpcweb

import "strings"

// Encoding identifies the serialization half of a negotiated content type.
type Encoding int

const (
	EncodingProto Encoding = iota
	EncodingJSON
)

// recognizedContentTypes are the four content types gRPC-Web defines, all
// under the application/ prefix.
var recognizedContentTypes = map[string]struct {
	text bool
	enc  Encoding
}{
	"application/grpc-web+proto":      {false, EncodingProto},
	"application/grpc-web-text+proto": {true, EncodingProto},
	"application/grpc-web+json":       {false, EncodingJSON},
	"application/grpc-web-text+json":  {true, EncodingJSON},
}

// Negotiated is the outcome of negotiating a request's Content-Type/Accept.
type Negotiated struct {
	Text     bool
	Encoding Encoding
	// ResponseContentType is the Content-Type the response should carry.
	ResponseContentType string
}

// ErrUnsupportedMediaType is returned when Content-Type or Accept names a
// media type outside the four gRPC-Web content types.
type ErrUnsupportedMediaType struct{ ContentType, Accept string }

func (e *ErrUnsupportedMediaType) Error() string {
	return "grpcweb: unsupported content type " + e.ContentType
}

// Negotiate classifies contentType/accept per spec §4.4: a request is
// accepted iff Content-Type is recognized and Accept is either unspecified
// (absent, empty, "*/*", "application/*") or also recognized. The response
// content type echoes Content-Type when Accept is unspecified, otherwise it
// is Accept verbatim.
func Negotiate(contentType, accept string) (Negotiated, error) {
	base := stripParams(contentType)
	info, ok := recognizedContentTypes[base]
	if !ok {
		return Negotiated{}, &ErrUnsupportedMediaType{ContentType: contentType, Accept: accept}
	}

	responseContentType := contentType
	if !isUnspecifiedAccept(accept) {
		acceptBase := stripParams(accept)
		if _, ok := recognizedContentTypes[acceptBase]; !ok {
			return Negotiated{}, &ErrUnsupportedMediaType{ContentType: contentType, Accept: accept}
		}
		responseContentType = accept
	}

	return Negotiated{
		Text:                info.text,
		Encoding:            info.enc,
		ResponseContentType: responseContentType,
	}, nil
}

func isUnspecifiedAccept(accept string) bool {
	switch strings.TrimSpace(accept) {
	case "", "*/*", "application/*":
		return true
	default:
		return false
	}
}

func stripParams(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}
