package upstream

import (
	"encoding/json"
	"net/http"
	"time"
)

// BodyKind tags which field of Body is populated.
type BodyKind int

const (
	BodyJSON BodyKind = iota + 1
	BodyBinary
)

func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyBinary:
		return "binary"
	default:
		return "none"
	}
}

// Body is the provider response body, classified once when it is received.
// JSON is set for BodyJSON; Bytes and MIME for BodyBinary.
type Body struct {
	Kind  BodyKind
	JSON  json.RawMessage
	Bytes []byte
	MIME  string
}

// Result is the outcome of one provider call. StatusCode and Body are the
// provider's own. When no response was received Err wraps a
// *TransportError and StatusCode is 500.
type Result struct {
	StatusCode int
	Body       Body
	Err        error

	RequestID string
	Duration  time.Duration
}

// OK reports whether the provider answered with a 2xx status.
func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// TransportError means the provider could not be reached or its response
// could not be read.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e == nil || e.Err == nil {
		return "provider request failed"
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportFailure(err error, elapsed time.Duration) Result {
	return Result{
		StatusCode: http.StatusInternalServerError,
		Err:        &TransportError{Err: err},
		Duration:   elapsed,
	}
}
