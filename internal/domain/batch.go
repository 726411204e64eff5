package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxKeyLength = 64

// Customer and batch names double as directory names under the storage root.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Batch is a named group of accounts tested together for one customer.
// The roster is fixed at creation and never re-derived from the source file.
type Batch struct {
	ID               string
	Customer         string
	Name             string
	Roster           []Account
	DomainsProcessed int
	RunCount         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func ValidateKey(kind, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, kind)
	}
	if len(trimmed) > maxKeyLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, kind, maxKeyLength)
	}
	if !keyPattern.MatchString(trimmed) {
		return fmt.Errorf("%w: %s %q may only contain letters, digits, '.', '_' and '-'", ErrValidation, kind, value)
	}
	return nil
}

func ValidateBatchKey(customer, name string) error {
	if err := ValidateKey("customer", customer); err != nil {
		return err
	}
	return ValidateKey("batch name", name)
}
