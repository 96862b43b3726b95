// Package pipeline holds the error taxonomy shared by every component of the
// callback pipeline. Handlers map these to HTTP statuses at the boundary;
// nothing below the handlers knows about HTTP.
package pipeline

import "errors"

var (
	// ErrUnauthorized covers every token/tenant mismatch. Callers must not
	// be able to tell whether the tenant, the token, or the binding between
	// them was wrong.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is an unknown document, callback, or message id.
	ErrNotFound = errors.New("not found")

	// ErrConflict is a callback trying to resolve an exchange that is not
	// awaiting a response, or re-resolve one already resolved.
	ErrConflict = errors.New("conflict")

	// ErrBadRequest is a malformed payload or an embedding of the wrong
	// dimension.
	ErrBadRequest = errors.New("bad request")
)
