package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// Account is one sending identity from the roster. It is immutable once loaded.
type Account struct {
	FromName  string
	FromEmail string
	Username  string
	Password  string
	SMTPHost  string
}

// ID returns the account identity used to key test records within a batch.
func (a Account) ID() string {
	return NormalizeEmail(a.FromEmail)
}

// Domain returns the sender domain of the account.
func (a Account) Domain() string {
	id := a.ID()
	if at := strings.LastIndex(id, "@"); at >= 0 {
		return id[at+1:]
	}
	return id
}

// LoginUser returns the SMTP login, falling back to the sender address.
func (a Account) LoginUser() string {
	if u := strings.TrimSpace(a.Username); u != "" {
		return u
	}
	return strings.TrimSpace(a.FromEmail)
}

func (a *Account) Validate() error {
	if strings.TrimSpace(a.FromEmail) == "" {
		return fmt.Errorf("%w: from_email is required", ErrMalformedInput)
	}
	if strings.TrimSpace(a.Password) == "" {
		return fmt.Errorf("%w: password is required for %s", ErrMalformedInput, a.FromEmail)
	}
	if strings.TrimSpace(a.SMTPHost) == "" {
		return fmt.Errorf("%w: smtp_host is required for %s", ErrMalformedInput, a.FromEmail)
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(a.FromEmail))
	if err != nil || addr.Address != strings.TrimSpace(a.FromEmail) {
		return fmt.Errorf("%w: invalid from_email %q", ErrMalformedInput, a.FromEmail)
	}

	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
