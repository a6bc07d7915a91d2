package domain

import "errors"

// Error kinds shared by every handler. Adapters and usecases wrap these with
// detail; handlers classify with errors.Is and never expose the detail.
var (
	ErrMissingParameter    = errors.New("missing parameter")
	ErrInvalidFormat       = errors.New("invalid format")
	ErrServerMisconfigured = errors.New("server misconfigured")
	ErrNotFound            = errors.New("not found")
	ErrDownstream          = errors.New("downstream failure")
)
