package rpcweb

import "strings"

// SnakeToPascal converts "create_user" to "CreateUser". Runs of
// underscores collapse; a leading/trailing underscore contributes no
// segment.
func SnakeToPascal(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// PascalToSnake converts "CreateUser" to "create_user". A new segment
// starts at each uppercase letter that follows a lowercase letter or
// digit, so acronyms ("ListACLs") are not split mid-run.
func PascalToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				prev := rune(s[i-1])
				if (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Descriptor is the per-method entry in a service's descriptor table: it
// carries the RPC kind (C6) and the input/output codecs (C5) a processor
// needs to drive a call, independent of how the handler itself is named
// or shaped.
type Descriptor struct {
	// Name is the descriptor key, conventionally PascalCase (e.g. the
	// proto method name).
	Name string
	// Stream marks a server-streaming method; false is unary.
	Stream bool
	Input  Codec
	Output Codec
	// Validate opts the method into go-playground/validator struct-tag
	// validation of the deserialized request, run after deserialization
	// and before the handler is invoked.
	Validate bool
	// Handler is either a plain handler function (see resolveHandler),
	// or a zero-argument constructor returning one — the "service
	// instance per call" form used when a handler needs fresh,
	// unshared state for each invocation.
	Handler any

	owner *Service
}

// Service is a named collection of method descriptors plus the handler
// implementation backing them.
type Service struct {
	Name        string
	ErrObserver func(error)

	methods map[string]*Descriptor
}

// NewService creates an empty service ready to receive AddMethod calls.
func NewService(name string) *Service {
	return &Service{Name: name, methods: map[string]*Descriptor{}}
}

// AddMethod registers a method under its descriptor key.
func (s *Service) AddMethod(d *Descriptor) {
	if s.methods == nil {
		s.methods = map[string]*Descriptor{}
	}
	d.owner = s
	s.methods[d.Name] = d
}

// Resolve locates a method descriptor for methodKey, tolerating naming
// drift between the PascalCase descriptor convention and a snake_case
// caller (C6/C7): it tries the key verbatim, then its PascalCase→snake_case
// transform, then snake_case→PascalCase.
func (s *Service) Resolve(methodKey string) (*Descriptor, bool) {
	if d, ok := s.methods[methodKey]; ok {
		return d, true
	}
	if d, ok := s.methods[PascalToSnake(methodKey)]; ok {
		return d, true
	}
	if d, ok := s.methods[SnakeToPascal(methodKey)]; ok {
		return d, true
	}
	return nil, false
}
