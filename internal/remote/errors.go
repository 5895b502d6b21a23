package remote

import (
	"errors"
	"fmt"
)

// TransportError is a network or HTTP failure. Callers keep their dirty state and retry later.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transport failure (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError is a malformed remote payload.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// AuthError is a missing or rejected credential. It is not locally recoverable.
type AuthError struct {
	Op     string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unauthorized (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: unauthorized: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

var (
	errUnexpectedStatus = errors.New("unexpected status")
	errMissingToken     = errors.New("bearer token required")
	errMissingUserID    = errors.New("user id required")
	errMissingBaseURL   = errors.New("remote base url is required")
)

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}
