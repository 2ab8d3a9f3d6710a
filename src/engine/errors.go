package engine

import (
	"errors"
	"fmt"
)

// QueryErrorCode classifies a malformed or unresolvable query specification.
type QueryErrorCode string

const (
	ErrUnknownCollection QueryErrorCode = "unknown_collection"
	ErrUnknownField      QueryErrorCode = "unknown_field"
	ErrMalformedSpec     QueryErrorCode = "malformed_spec"
)

// QueryError means the specification itself is bad. Retrying an identical
// query will not help; the caller has to fix the spec.
type QueryError struct {
	Code    QueryErrorCode
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error (%s): %s", e.Code, e.Message)
}

func NewQueryError(code QueryErrorCode, format string, args ...interface{}) *QueryError {
	return &QueryError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// TransportError means the request never resolved: connectivity failure,
// timeout, or an unreadable response. Callers may retry with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// ErrorEnvelope is the JSON shape errors take on the wire between the
// query server and its clients.
type ErrorEnvelope struct {
	Error WireError `json:"error"`
}

// WireError carries the error taxonomy across the transport: kind "query"
// for malformed specifications, kind "transport" for everything a caller
// may retry.
type WireError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

const (
	WireKindQuery     = "query"
	WireKindTransport = "transport"
)

// EnvelopeFor wraps an execution error for the wire.
func EnvelopeFor(err error) ErrorEnvelope {
	if qe, ok := AsQueryError(err); ok {
		return ErrorEnvelope{Error: WireError{
			Kind:    WireKindQuery,
			Code:    string(qe.Code),
			Message: qe.Message,
		}}
	}
	return ErrorEnvelope{Error: WireError{
		Kind:    WireKindTransport,
		Message: err.Error(),
	}}
}

// ToError reconstructs the typed error on the client side.
func (w WireError) ToError() error {
	if w.Kind == WireKindQuery {
		return &QueryError{Code: QueryErrorCode(w.Code), Message: w.Message}
	}
	return &TransportError{Op: "remote", Err: errors.New(w.Message)}
}

// AsQueryError unwraps err into a QueryError if it is one.
func AsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// AsTransportError unwraps err into a TransportError if it is one.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
