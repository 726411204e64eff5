package domain

// Band is the color class the reporting side renders a rate with.
type Band string

const (
	BandGood    Band = "GOOD"
	BandWarning Band = "WARNING"
	BandPoor    Band = "POOR"
)

func (b Band) String() string { return string(b) }

// Inbox-rate thresholds.
const (
	GoodInboxRate    = 0.70
	WarningInboxRate = 0.50
)

// Spam-rate thresholds; lower is better.
const (
	GoodSpamRate    = 0.10
	WarningSpamRate = 0.25
)

func BandFor(inboxRate float64) Band {
	switch {
	case inboxRate >= GoodInboxRate:
		return BandGood
	case inboxRate >= WarningInboxRate:
		return BandWarning
	default:
		return BandPoor
	}
}

func SpamBandFor(spamRate float64) Band {
	switch {
	case spamRate <= GoodSpamRate:
		return BandGood
	case spamRate <= WarningSpamRate:
		return BandWarning
	default:
		return BandPoor
	}
}

// ProviderStats holds placement rates for one provider class. Samples are seed
// placements; a completed record without seed detail counts as one sample.
type ProviderStats struct {
	InboxRate   float64
	SpamRate    float64
	SampleCount int
}

// Summary aggregates a set of test records. Rates are computed over completed
// records only; Pending counts every record that is not yet resolved and
// Submitted is the in-flight part of it.
type Summary struct {
	Total       int
	Completed   int
	Pending     int
	Submitted   int
	Failed      int
	InboxRate   float64
	SpamRate    float64
	PerProvider map[Provider]ProviderStats
}

func (s Summary) InboxBand() Band { return BandFor(s.InboxRate) }

func (s Summary) SpamBand() Band { return SpamBandFor(s.SpamRate) }

// Summarize computes a Summary over records.
func Summarize(records []TestRecord) Summary {
	summary := Summary{
		Total:       len(records),
		PerProvider: make(map[Provider]ProviderStats),
	}

	var inbox, spam int
	perProvider := make(providerCounts)

	for i := range records {
		r := records[i]
		switch r.Status {
		case StatusPending:
			summary.Pending++
		case StatusSubmitted:
			summary.Pending++
			summary.Submitted++
		case StatusFailed:
			summary.Failed++
		case StatusCompleted:
			summary.Completed++
			provider, outcome := ProviderUnknown, OutcomeUnknown
			if r.Result != nil {
				provider, outcome = r.Result.Provider, r.Result.Outcome
			}
			switch outcome {
			case OutcomeInbox:
				inbox++
			case OutcomeSpam:
				spam++
			}

			if r.Result != nil && len(r.Result.Placements) > 0 {
				for p, pl := range r.Result.Placements {
					if pl.Seeds <= 0 {
						continue
					}
					c := perProvider.get(p)
					c.total += pl.Seeds
					c.inbox += pl.Inbox
					c.spam += pl.Spam
				}
				continue
			}

			c := perProvider.get(provider)
			c.total++
			switch outcome {
			case OutcomeInbox:
				c.inbox++
			case OutcomeSpam:
				c.spam++
			}
		}
	}

	if summary.Completed > 0 {
		summary.InboxRate = float64(inbox) / float64(summary.Completed)
		summary.SpamRate = float64(spam) / float64(summary.Completed)
	}
	for provider, c := range perProvider {
		summary.PerProvider[provider] = ProviderStats{
			InboxRate:   float64(c.inbox) / float64(c.total),
			SpamRate:    float64(c.spam) / float64(c.total),
			SampleCount: c.total,
		}
	}

	return summary
}

type placementCounts struct{ total, inbox, spam int }

type providerCounts map[Provider]*placementCounts

func (pc providerCounts) get(p Provider) *placementCounts {
	if p == "" {
		p = ProviderUnknown
	}
	c := pc[p]
	if c == nil {
		c = &placementCounts{}
		pc[p] = c
	}
	return c
}
