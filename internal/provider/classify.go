package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
)

const seedWaiting = "waiting_for_email"

// SeedStats are placement rates across the seed mailboxes of one test.
type SeedStats struct {
	Received       int
	InboxRate      float64
	SpamRate       float64
	ProviderInbox  map[domain.Provider]float64
	ProviderCounts map[domain.Provider]int
}

// IsComplete reports whether the service has finished the test.
func (r *TestResult) IsComplete() bool {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "completed", "complete":
		return true
	}
	return false
}

// IsFailed reports whether the service gave up on the test.
func (r *TestResult) IsFailed() bool {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "failed", "error", "expired", "cancelled", "canceled":
		return true
	}
	return false
}

// Resolve turns a finished test into a record resolution. The outcome is the
// majority placement across received seeds, with ties going to spam, and the
// provider is the one most seeds belong to. Per-provider seed counts are kept
// so reports can rate Google and Microsoft separately.
func (r *TestResult) Resolve(at time.Time) (domain.Result, bool) {
	switch {
	case r.IsFailed():
		return domain.Result{
			Raw:        r.Raw,
			Error:      fmt.Sprintf("measurement service reported test status %q", r.Status),
			ResolvedAt: at,
		}, true
	case !r.IsComplete():
		return domain.Result{}, false
	}

	outcomes := make(map[domain.Outcome]int)
	providers := make(map[domain.Provider]int)
	placements := make(map[domain.Provider]domain.Placement)
	for _, seed := range r.Seeds {
		if strings.EqualFold(strings.TrimSpace(seed.Status), seedWaiting) {
			continue
		}
		outcome, provider := seedOutcome(seed.Folder), domain.ParseProvider(seed.Provider)
		outcomes[outcome]++
		providers[provider]++

		pl := placements[provider]
		pl.Seeds++
		switch outcome {
		case domain.OutcomeInbox:
			pl.Inbox++
		case domain.OutcomeSpam:
			pl.Spam++
		}
		placements[provider] = pl
	}
	if len(placements) == 0 {
		placements = nil
	}

	return domain.Result{
		Provider:   dominantProvider(providers),
		Outcome:    majorityOutcome(outcomes),
		Placements: placements,
		Raw:        r.Raw,
		ResolvedAt: at,
	}, true
}

// Stats computes per-seed placement rates the way the results export shows them.
func (r *TestResult) Stats() SeedStats {
	stats := SeedStats{
		ProviderInbox:  make(map[domain.Provider]float64),
		ProviderCounts: make(map[domain.Provider]int),
	}

	var inbox, spam int
	providerInbox := make(map[domain.Provider]int)
	for _, seed := range r.Seeds {
		if strings.EqualFold(strings.TrimSpace(seed.Status), seedWaiting) {
			continue
		}
		stats.Received++
		provider := domain.ParseProvider(seed.Provider)
		stats.ProviderCounts[provider]++
		switch seedOutcome(seed.Folder) {
		case domain.OutcomeInbox:
			inbox++
			providerInbox[provider]++
		case domain.OutcomeSpam:
			spam++
		}
	}

	if stats.Received > 0 {
		stats.InboxRate = float64(inbox) / float64(stats.Received)
		stats.SpamRate = float64(spam) / float64(stats.Received)
	}
	for provider, n := range stats.ProviderCounts {
		stats.ProviderInbox[provider] = float64(providerInbox[provider]) / float64(n)
	}
	return stats
}

func seedOutcome(folder string) domain.Outcome {
	switch strings.ToLower(strings.TrimSpace(folder)) {
	case "inbox":
		return domain.OutcomeInbox
	case "spam", "junk":
		return domain.OutcomeSpam
	}
	return domain.OutcomeNotReceived
}

func majorityOutcome(counts map[domain.Outcome]int) domain.Outcome {
	if len(counts) == 0 {
		return domain.OutcomeNotReceived
	}

	// Pessimistic tie-break order.
	best, bestCount := domain.OutcomeNotReceived, -1
	for _, o := range []domain.Outcome{domain.OutcomeSpam, domain.OutcomeInbox, domain.OutcomeNotReceived} {
		if counts[o] > bestCount {
			best, bestCount = o, counts[o]
		}
	}
	return best
}

func dominantProvider(counts map[domain.Provider]int) domain.Provider {
	best, bestCount, tied := domain.ProviderUnknown, 0, false
	for _, p := range []domain.Provider{domain.ProviderGoogle, domain.ProviderMicrosoft, domain.ProviderUnknown} {
		switch n := counts[p]; {
		case n > bestCount:
			best, bestCount, tied = p, n, false
		case n == bestCount && n > 0:
			tied = true
		}
	}
	if tied {
		return domain.ProviderUnknown
	}
	return best
}
