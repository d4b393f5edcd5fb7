package sourcez

import (
	"errors"
	"fmt"
	"strings"
)

// Classified request errors. Every error raised by the pipeline itself wraps
// one of these and can be matched with errors.Is. Errors produced by a
// backend are passed through unchanged.
var (
	ErrInvalidAddress     = errors.New("invalid address")
	ErrMalformedRequest   = errors.New("malformed request")
	ErrContractViolation  = errors.New("contract violation")
	ErrRouteNotFound      = errors.New("route not found")
	ErrInvalidRouteTable  = errors.New("invalid route table")
	ErrMethodNotSupported = errors.New("method not supported")
	ErrRecursionDisabled  = errors.New("recursion not enabled")
)

// RequestError describes a rejected request.
type RequestError struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Method is the request method, when known.
	Method Method

	// Address is the normalized address, when known.
	Address Address

	// Field names the offending request field for malformed requests.
	Field string

	// Segment is the unmatched route segment for routing failures.
	Segment string

	// Detail carries a free form explanation.
	Detail string
}

// Error implements error.
func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	if e.Segment != "" || errors.Is(e.Kind, ErrRouteNotFound) {
		segment := e.Segment
		if segment == "" {
			segment = "[index]"
		}
		fmt.Fprintf(&b, ": segment %s", segment)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Address != nil {
		fmt.Fprintf(&b, " (%s %s)", methodOrUnknown(e.Method), e.Address)
	}
	return b.String()
}

// Unwrap returns the error kind.
func (e *RequestError) Unwrap() error {
	return e.Kind
}

func methodOrUnknown(m Method) string {
	if m == "" {
		return "?"
	}
	return string(m)
}
