package domain

import "errors"

// Error categories shared by every layer. Specific errors wrap one of these
// with %w so transport code can map them without knowing each sentinel.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrProviderFailure = errors.New("ai provider failure")
)
