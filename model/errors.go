package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("upstream: non-existent domain")
	ErrNoAnswer = errors.New("upstream: no answer")
	ErrTimeout  = errors.New("upstream: timeout")
)

// ConfigurationError is fatal and reported before any socket is opened
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// BindError the udp socket could not be bound
// Permission is true when the os refused the address, typically port 53 without privilege
type BindError struct {
	Address    string
	Permission bool
	Err        error
}

func (e *BindError) Error() string {
	if e.Permission {
		return fmt.Sprintf("unable to bind dns server on %s: permission denied", e.Address)
	}
	return fmt.Sprintf("unable to bind dns server on %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
