// Package errs contains sentinel errors shared by the store, services, and HTTP layer.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested record or index target does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed input such as an out-of-range rating.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates the actor does not own the resource.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates a uniqueness violation, e.g. an email already registered.
	ErrConflict = errors.New("conflict")

	// ErrStorage indicates a durable-media read or write failure.
	ErrStorage = errors.New("storage failure")

	// ErrExternalService indicates the personalizer was unavailable or answered with garbage.
	ErrExternalService = errors.New("external service failure")
)
