package model

import "errors"

// Error families shared by the ledger, issuer and governance packages. Every
// domain sentinel wraps exactly one of these.
var (
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrStateConflict = errors.New("state conflict")
)
