package redact

import "errors"

// ErrInvalidPolicy indicates a Policy that cannot be used to build a Redactor.
var ErrInvalidPolicy = errors.New("redact: invalid policy")
