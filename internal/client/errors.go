package client

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSuperseded is returned by a search that a newer search cancelled.
var ErrSuperseded = errors.New("superseded by a newer request")

// ValidationError is a rejected input, either caught locally before any
// request or reported by the server.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation: " + e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return "validation: " + strings.Join(parts, "; ")
}

// NotFoundError covers a missing party and one owned by someone else.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return "not found: " + e.Message }

// AuthError is raised before any network call when no session is set, and
// for 401/403 answers.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "auth: " + e.Message }

// TransientError is a network failure or a 5xx/429 answer. The same call may
// succeed later.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PartialFailureError means the server rolled back a multi-step delete.
// Nothing changed.
type PartialFailureError struct {
	Message string
}

func (e *PartialFailureError) Error() string { return "partial failure: " + e.Message }

// APIError carries any other non-2xx answer.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d (%s): %s", e.Status, e.Code, e.Message)
}

func IsTransient(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}
