package validator

import "errors"

// ErrValidationFailed is wrapped by every ValidationErrors value so callers
// can match it with errors.Is.
var ErrValidationFailed = errors.New("validation failed")
