package provider

import (
	"context"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
)

// MeasurementService is the outbound port to the inbox placement service.
type MeasurementService interface {
	RegisterTest(ctx context.Context, account domain.Account) (*Registration, error)
	FetchResult(ctx context.Context, testID string) (*TestResult, error)
}

// Registration is what the service hands back for a newly created test.
type Registration struct {
	TestID       string
	Name         string
	FilterPhrase string
	Recipients   []string
	TestURL      string
}

// Submission converts the registration into the record payload stored on submit.
func (r Registration) Submission(at time.Time) domain.Submission {
	return domain.Submission{
		TestID:       r.TestID,
		FilterPhrase: r.FilterPhrase,
		Recipients:   append([]string(nil), r.Recipients...),
		TestURL:      r.TestURL,
		SubmittedAt:  at,
	}
}

// TestResult is the service's view of one test at fetch time.
type TestResult struct {
	TestID       string
	Name         string
	Status       string
	OverallScore *float64
	Seeds        []SeedResult
	Raw          []byte
}

// SeedResult is the placement of the probe in one seed mailbox.
type SeedResult struct {
	Email    string
	Provider string
	Folder   string
	Status   string
}
