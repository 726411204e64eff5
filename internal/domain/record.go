package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecordStatus represents the lifecycle state of a test record.
type RecordStatus string

const (
	StatusPending   RecordStatus = "PENDING"
	StatusSubmitted RecordStatus = "SUBMITTED"
	StatusCompleted RecordStatus = "COMPLETED"
	StatusFailed    RecordStatus = "FAILED"
)

func (s RecordStatus) String() string { return string(s) }

func (s RecordStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s RecordStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether next is a forward move in the record lifecycle.
// Pending records may only fail directly when the measurement service rejects them permanently.
func (s RecordStatus) CanTransitionTo(next RecordStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSubmitted || next == StatusFailed
	case StatusSubmitted:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

func ParseRecordStatus(s string) (RecordStatus, error) {
	st := RecordStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Provider is the inbox provider class a result is attributed to.
type Provider string

const (
	ProviderGoogle    Provider = "GOOGLE"
	ProviderMicrosoft Provider = "MICROSOFT"
	ProviderUnknown   Provider = "UNKNOWN"
)

func (p Provider) String() string { return string(p) }

// ParseProvider maps free-form provider labels such as "Google Workspace" or
// "microsoft_365" onto a provider class.
func ParseProvider(s string) Provider {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(normalized, "google"), strings.Contains(normalized, "gmail"):
		return ProviderGoogle
	case strings.Contains(normalized, "microsoft"), strings.Contains(normalized, "outlook"), strings.Contains(normalized, "office365"):
		return ProviderMicrosoft
	}
	return ProviderUnknown
}

// Outcome is the inbox-placement result of a probe.
type Outcome string

const (
	OutcomeInbox       Outcome = "INBOX"
	OutcomeSpam        Outcome = "SPAM"
	OutcomeNotReceived Outcome = "NOT_RECEIVED"
	OutcomeUnknown     Outcome = "UNKNOWN"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeInbox, OutcomeSpam, OutcomeNotReceived, OutcomeUnknown:
		return true
	}
	return false
}

// Submission holds what is known once a probe has been registered and sent.
type Submission struct {
	TestID       string
	FilterPhrase string
	Recipients   []string
	TestURL      string
	SubmittedAt  time.Time
}

// Placement counts where the probe landed across the seed mailboxes of one provider.
type Placement struct {
	Seeds int
	Inbox int
	Spam  int
}

// Result is the resolution reported by the measurement service for a submitted test.
// A non-empty Error means the service reported the test as failed. Placements
// keeps the per-provider seed counts behind Provider and Outcome.
type Result struct {
	Provider   Provider
	Outcome    Outcome
	Placements map[Provider]Placement
	Raw        []byte
	Error      string
	ResolvedAt time.Time
}

// TargetStatus returns the terminal status this result moves a record into.
func (r Result) TargetStatus() RecordStatus {
	if strings.TrimSpace(r.Error) != "" {
		return StatusFailed
	}
	return StatusCompleted
}

// Failure describes why a record ended in the failed state.
type Failure struct {
	Reason   string
	FailedAt time.Time
}

// TestRecord tracks one account's probe inside one batch. Submission is set
// from SUBMITTED onwards, Result only when COMPLETED and Failure only when FAILED.
type TestRecord struct {
	ID         string
	BatchID    string
	Position   int
	Account    Account
	Status     RecordStatus
	Submission *Submission
	Result     *Result
	Failure    *Failure
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r TestRecord) AccountID() string { return r.Account.ID() }

// TestID returns the external test identifier, or "" before submission.
func (r TestRecord) TestID() string {
	if r.Submission == nil {
		return ""
	}
	return r.Submission.TestID
}

// Validate checks that only the payload fields valid for the current status are set.
func (r *TestRecord) Validate() error {
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, r.Status)
	}

	hasTestID := r.Submission != nil && strings.TrimSpace(r.Submission.TestID) != ""
	switch r.Status {
	case StatusPending:
		if r.Submission != nil || r.Result != nil || r.Failure != nil {
			return fmt.Errorf("%w: pending record %s carries submission or resolution data", ErrValidation, r.AccountID())
		}
	case StatusSubmitted:
		if !hasTestID {
			return fmt.Errorf("%w: submitted record %s has no test id", ErrValidation, r.AccountID())
		}
		if r.Result != nil || r.Failure != nil {
			return fmt.Errorf("%w: submitted record %s carries resolution data", ErrValidation, r.AccountID())
		}
	case StatusCompleted:
		if !hasTestID || r.Result == nil {
			return fmt.Errorf("%w: completed record %s needs test id and result", ErrValidation, r.AccountID())
		}
		if r.Failure != nil {
			return fmt.Errorf("%w: completed record %s carries failure data", ErrValidation, r.AccountID())
		}
	case StatusFailed:
		if r.Failure == nil {
			return fmt.Errorf("%w: failed record %s has no failure reason", ErrValidation, r.AccountID())
		}
		if r.Result != nil {
			return fmt.Errorf("%w: failed record %s carries a result", ErrValidation, r.AccountID())
		}
	}

	return nil
}

// SameResolution reports whether applying res to an already terminal record
// would leave it unchanged.
func (r *TestRecord) SameResolution(res Result) bool {
	if !r.Status.IsTerminal() || r.Status != res.TargetStatus() {
		return false
	}
	if r.Status == StatusFailed {
		return true
	}
	if r.Result == nil {
		return false
	}
	return r.Result.Provider == res.Provider && r.Result.Outcome == res.Outcome
}
