package service

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
)

// AccountError is a per-account submit failure. Terminal means the record
// was moved to FAILED; otherwise it is still PENDING and a later run retries it.
type AccountError struct {
	AccountID string
	Terminal  bool
	Err       error
}

func (e *AccountError) Error() string {
	state := "left pending"
	if e.Terminal {
		state = "marked failed"
	}
	return fmt.Sprintf("%s (%s): %v", e.AccountID, state, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

// PollTimeoutError is returned when auto-polling hits its deadline. Results
// merged before the deadline stay persisted.
type PollTimeoutError struct {
	BatchID    string
	Unresolved int
	Deadline   time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("batch %s: %d records unresolved after %s", e.BatchID, e.Unresolved, e.Deadline)
}

func (e *PollTimeoutError) Unwrap() error { return domain.ErrPollTimeout }

func lockKey(batch *domain.Batch) string {
	return "batch:" + batch.ID
}
