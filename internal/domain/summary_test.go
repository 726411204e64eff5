package domain

import (
	"math"
	"testing"
)

func completedRecord(provider Provider, outcome Outcome) TestRecord {
	return TestRecord{
		Status:     StatusCompleted,
		Submission: &Submission{TestID: "t"},
		Result:     &Result{Provider: provider, Outcome: outcome},
	}
}

func TestSummarizeRates(t *testing.T) {
	t.Parallel()

	var records []TestRecord
	for i := 0; i < 7; i++ {
		records = append(records, completedRecord(ProviderGoogle, OutcomeInbox))
	}
	for i := 0; i < 3; i++ {
		records = append(records, completedRecord(ProviderMicrosoft, OutcomeSpam))
	}
	records = append(records,
		TestRecord{Status: StatusPending},
		TestRecord{Status: StatusSubmitted, Submission: &Submission{TestID: "s"}},
		TestRecord{Status: StatusFailed, Failure: &Failure{Reason: "x"}},
	)

	s := Summarize(records)

	if s.Total != 13 || s.Completed != 10 || s.Pending != 2 || s.Submitted != 1 || s.Failed != 1 {
		t.Fatalf("counts = %+v", s)
	}
	if s.InboxRate != 0.70 {
		t.Fatalf("InboxRate = %v, want 0.70", s.InboxRate)
	}
	if math.Abs(s.SpamRate-0.30) > 1e-9 {
		t.Fatalf("SpamRate = %v, want 0.30", s.SpamRate)
	}
	if s.InboxBand() != BandGood {
		t.Fatalf("InboxBand() = %s, want GOOD", s.InboxBand())
	}

	google := s.PerProvider[ProviderGoogle]
	if google.SampleCount != 7 || google.InboxRate != 1 {
		t.Fatalf("google stats = %+v", google)
	}
	microsoft := s.PerProvider[ProviderMicrosoft]
	if microsoft.SampleCount != 3 || microsoft.SpamRate != 1 || microsoft.InboxRate != 0 {
		t.Fatalf("microsoft stats = %+v", microsoft)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	s := Summarize(nil)
	if s.Total != 0 || s.InboxRate != 0 || len(s.PerProvider) != 0 {
		t.Fatalf("empty summary = %+v", s)
	}
	if s.InboxBand() != BandPoor {
		t.Fatalf("InboxBand() = %s, want POOR", s.InboxBand())
	}
}

func TestBandFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want Band
	}{
		{1, BandGood},
		{0.70, BandGood},
		{0.6999, BandWarning},
		{0.60, BandWarning},
		{0.50, BandWarning},
		{0.4999, BandPoor},
		{0, BandPoor},
	}
	for _, tt := range tests {
		if got := BandFor(tt.rate); got != tt.want {
			t.Errorf("BandFor(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}

	if got := SpamBandFor(0.05); got != BandGood {
		t.Errorf("SpamBandFor(0.05) = %s, want GOOD", got)
	}
	if got := SpamBandFor(0.2); got != BandWarning {
		t.Errorf("SpamBandFor(0.2) = %s, want WARNING", got)
	}
	if got := SpamBandFor(0.5); got != BandPoor {
		t.Errorf("SpamBandFor(0.5) = %s, want POOR", got)
	}
}

func TestValidateBatchKey(t *testing.T) {
	t.Parallel()

	if err := ValidateBatchKey("acme", "2026-q1"); err != nil {
		t.Fatalf("ValidateBatchKey() unexpected error = %v", err)
	}
	for _, bad := range [][2]string{{"", "b"}, {"acme", ""}, {"ac/me", "b"}, {"acme", "../b"}, {"acme", ".hidden"}} {
		if err := ValidateBatchKey(bad[0], bad[1]); err == nil {
			t.Errorf("ValidateBatchKey(%q, %q) expected error", bad[0], bad[1])
		}
	}
}

func TestSummarizePerProviderUsesSeedPlacements(t *testing.T) {
	t.Parallel()

	mixed := TestRecord{
		Status:     StatusCompleted,
		Submission: &Submission{TestID: "t"},
		Result: &Result{
			Provider: ProviderUnknown,
			Outcome:  OutcomeSpam,
			Placements: map[Provider]Placement{
				ProviderGoogle:    {Seeds: 2, Inbox: 2},
				ProviderMicrosoft: {Seeds: 2, Spam: 2},
			},
		},
	}
	legacy := completedRecord(ProviderGoogle, OutcomeSpam)

	s := Summarize([]TestRecord{mixed, legacy})

	if s.Completed != 2 || s.InboxRate != 0 || s.SpamRate != 1 {
		t.Fatalf("overall = %+v, want record-level rates 0/1", s)
	}
	if _, ok := s.PerProvider[ProviderUnknown]; ok {
		t.Fatalf("PerProvider = %v, want no UNKNOWN bucket", s.PerProvider)
	}

	google := s.PerProvider[ProviderGoogle]
	if google.SampleCount != 3 || math.Abs(google.InboxRate-2.0/3) > 1e-9 || math.Abs(google.SpamRate-1.0/3) > 1e-9 {
		t.Fatalf("google stats = %+v", google)
	}
	microsoft := s.PerProvider[ProviderMicrosoft]
	if microsoft.SampleCount != 2 || microsoft.InboxRate != 0 || microsoft.SpamRate != 1 {
		t.Fatalf("microsoft stats = %+v", microsoft)
	}
}
