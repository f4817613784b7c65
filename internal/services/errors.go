package services

import (
	"fmt"
	"strings"
)

// ValidationError means the client payload is missing or malformed.
type ValidationError struct{ Message string }

func (e *ValidationError) Error() string { return e.Message }

// UpstreamError carries a non-2xx upstream answer verbatim.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: %d - %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// MalformedResponseError means the upstream answered 2xx without choices[0].message.content.
type MalformedResponseError struct{ Reason string }

func (e *MalformedResponseError) Error() string {
	return "malformed upstream response: " + e.Reason
}

// InternalError covers missing credentials, unreadable bodies and transport failures.
type InternalError struct {
	Message string
	Err     error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }
