package mailer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/kursadbilgin/placement-engine/internal/domain"
)

const (
	DefaultSubject = "Team Meeting Code"
	DefaultBody    = "Hello Team, Please find here todays meeting code:"
)

// Sender delivers one probe from an account to the seed recipients.
type Sender interface {
	Send(ctx context.Context, account domain.Account, probe Probe) error
}

// Probe is a single test message. The filter phrase lets the measurement
// service match the message to its test.
type Probe struct {
	Recipients   []string
	Subject      string
	Body         string
	FilterPhrase string
}

// Text returns the message body with the filter phrase appended.
func (p Probe) Text() string {
	if strings.TrimSpace(p.FilterPhrase) == "" {
		return p.Body
	}
	return p.Body + "\n\n" + p.FilterPhrase
}

// SendError reports a probe that could not be delivered.
type SendError struct {
	AccountID string
	Stage     string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send probe from %s: %s: %v", e.AccountID, e.Stage, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// BuildMessage renders the probe as an RFC 5322 plain-text message.
func BuildMessage(account domain.Account, probe Probe, at time.Time) ([]byte, error) {
	if len(probe.Recipients) == 0 {
		return nil, fmt.Errorf("%w: probe has no recipients", domain.ErrValidation)
	}

	to := make([]*mail.Address, 0, len(probe.Recipients))
	for _, r := range probe.Recipients {
		to = append(to, &mail.Address{Address: r})
	}

	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{{Name: account.FromName, Address: strings.TrimSpace(account.FromEmail)}})
	h.SetAddressList("To", to)
	h.SetSubject(probe.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := w.Write([]byte(probe.Text())); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}

	return buf.Bytes(), nil
}
