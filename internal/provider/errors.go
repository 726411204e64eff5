package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ServiceError classifies measurement service failures as transient or permanent.
type ServiceError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "measurement service error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// RegistrationError is returned when a test could not be registered for an account.
type RegistrationError struct {
	AccountID string
	Err       error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register test for %s: %v", e.AccountID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
