package service

import (
	"errors"
	"fmt"
)

// ErrNoMatch means no postcard is waiting for an address from the sender.
var ErrNoMatch = errors.New("service: no matching postcard")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}
