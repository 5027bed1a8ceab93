package app

import "errors"

// ErrInvalidInput marks a request missing a required field.
var ErrInvalidInput = errors.New("invalid input")
