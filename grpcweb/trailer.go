package grpcweb

import (
	"sort"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
)

// reserved trailer names that may not be duplicated from user metadata.
const (
	keyGRPCStatus  = "grpc-status"
	keyGRPCMessage = "grpc-message"
	keyGRPCWeb     = "x-grpc-web"
)

var reservedTrailerKeys = map[string]bool{
	keyGRPCStatus:  true,
	keyGRPCMessage: true,
	keyGRPCWeb:     true,
}

// Trailer is the decoded form of a Trailer frame's body.
type Trailer struct {
	Code     codes.Code
	Message  string
	Metadata metadata.MD
}

// EncodeTrailer builds the body of a Trailer frame: grpc-status, then
// grpc-message, then x-grpc-web, in that order, then one non-reserved
// metadata pair per line, each line CRLF-terminated including the last.
// The message is emitted verbatim; callers must ensure it has no CR or LF.
func EncodeTrailer(t Trailer) []byte {
	var b strings.Builder
	b.WriteString(keyGRPCStatus)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(t.Code)))
	b.WriteString("\r\n")

	b.WriteString(keyGRPCMessage)
	b.WriteByte(':')
	b.WriteString(t.Message)
	b.WriteString("\r\n")

	b.WriteString(keyGRPCWeb)
	b.WriteString(":1\r\n")

	for _, k := range sortedKeys(t.Metadata) {
		if reservedTrailerKeys[k] {
			continue
		}
		for _, v := range t.Metadata.Get(k) {
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}

	return []byte(b.String())
}

// ParseTrailer parses a Trailer frame's body. Lines are split on \r?\n; a
// line lacking a ':' separator is ignored; duplicate keys keep the
// last-seen value for Code/Message, and accumulate for Metadata (the
// reserved keys are never added to Metadata). A non-numeric grpc-status is
// treated as Unknown.
func ParseTrailer(body []byte) Trailer {
	t := Trailer{Code: codes.Unknown, Metadata: metadata.MD{}}

	for _, line := range splitLines(string(body)) {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])

		switch key {
		case keyGRPCStatus:
			if code, err := strconv.Atoi(value); err == nil && code >= 0 {
				t.Code = codes.Code(code) //nolint:gosec // validated non-negative above
			} else {
				t.Code = codes.Unknown
			}
		case keyGRPCMessage:
			t.Message = value
		case keyGRPCWeb:
			// recognized but carries no data beyond its presence
		default:
			t.Metadata.Append(key, value)
		}
	}

	return t
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func sortedKeys(md metadata.MD) []string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
