package tree

import "errors"

var (
	// ErrTreeTooDeep reports a traversal that exceeded the depth ceiling.
	ErrTreeTooDeep = errors.New("sponsorship tree exceeds depth ceiling")
	// ErrAccountNotFound reports a query rooted at a missing account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidServiceConfig reports bad constructor input.
	ErrInvalidServiceConfig = errors.New("invalid tree service config")
	// ErrInvalidLevel reports a non-positive generation level.
	ErrInvalidLevel = errors.New("level must be at least 1")
)
