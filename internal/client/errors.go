package client

import (
	"fmt"
	"strings"
)

type ErrorKind string

const (
	BadRequest  ErrorKind = "badRequest"
	AuthFailure ErrorKind = "authFailure"
	RateLimited ErrorKind = "rateLimited"
	ServerError ErrorKind = "serverError"
)

// GatewayError is a failed send. HTTPStatus is zero for transport failures.
type GatewayError struct {
	Kind       ErrorKind
	HTTPStatus int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sendblue: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("sendblue: %s: unexpected status code: %d body=%q", e.Kind, e.HTTPStatus, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may try again later.
func (e *GatewayError) Retryable() bool {
	return e.Kind == RateLimited || e.Kind == ServerError
}

type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "sendblue: credentials not configured: missing " + strings.Join(e.Missing, ", ")
}
