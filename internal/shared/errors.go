package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates the request credential could not be verified.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the caller lacks the required privilege level.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates a malformed request payload.
	ErrValidation = errors.New("validation failed")
)
