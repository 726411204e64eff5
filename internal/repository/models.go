package repository

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID               string `gorm:"type:varchar(36);primaryKey"`
	Customer         string `gorm:"type:varchar(64);not null;uniqueIndex:idx_batches_customer_name,priority:1"`
	Name             string `gorm:"type:varchar(64);not null;uniqueIndex:idx_batches_customer_name,priority:2"`
	DomainsProcessed int    `gorm:"not null;default:0"`
	RunCount         int    `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// TestRecordModel is the persistence model for test_records. Account
// credentials are stored with the record because the roster is never
// re-read from the source file.
type TestRecordModel struct {
	ID            string              `gorm:"type:varchar(36);primaryKey"`
	BatchID       string              `gorm:"type:varchar(36);not null;uniqueIndex:idx_test_records_batch_account,priority:1"`
	AccountID     string              `gorm:"type:varchar(255);not null;uniqueIndex:idx_test_records_batch_account,priority:2"`
	Position      int                 `gorm:"not null"`
	FromName      string              `gorm:"type:varchar(255)"`
	FromEmail     string              `gorm:"type:varchar(255);not null"`
	Username      string              `gorm:"type:varchar(255)"`
	Password      string              `gorm:"type:text;not null"`
	SMTPHost      string              `gorm:"column:smtp_host;type:varchar(255);not null"`
	Status        domain.RecordStatus `gorm:"type:varchar(20);not null"`
	TestID        *string             `gorm:"type:varchar(255)"`
	FilterPhrase  *string             `gorm:"type:varchar(255)"`
	Recipients    *string             `gorm:"type:text"`
	TestURL       *string             `gorm:"column:test_url;type:varchar(512)"`
	SubmittedAt   *time.Time
	Provider      *string `gorm:"type:varchar(20)"`
	Outcome       *string `gorm:"type:varchar(20)"`
	Placements    *string `gorm:"type:text"`
	RawResult     *string `gorm:"type:text"`
	FailureReason *string `gorm:"type:text"`
	FailedAt      *time.Time
	ResolvedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (TestRecordModel) TableName() string {
	return "test_records"
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:               m.ID,
		Customer:         m.Customer,
		Name:             m.Name,
		DomainsProcessed: m.DomainsProcessed,
		RunCount:         m.RunCount,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func recordModelFromAccount(batchID string, position int, a domain.Account) TestRecordModel {
	return TestRecordModel{
		BatchID:   batchID,
		AccountID: a.ID(),
		Position:  position,
		FromName:  strings.TrimSpace(a.FromName),
		FromEmail: strings.TrimSpace(a.FromEmail),
		Username:  strings.TrimSpace(a.Username),
		Password:  a.Password,
		SMTPHost:  strings.TrimSpace(a.SMTPHost),
		Status:    domain.StatusPending,
	}
}

func recordModelToDomain(m *TestRecordModel) *domain.TestRecord {
	if m == nil {
		return nil
	}

	r := &domain.TestRecord{
		ID:       m.ID,
		BatchID:  m.BatchID,
		Position: m.Position,
		Account: domain.Account{
			FromName:  m.FromName,
			FromEmail: m.FromEmail,
			Username:  m.Username,
			Password:  m.Password,
			SMTPHost:  m.SMTPHost,
		},
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}

	if m.TestID != nil && m.Status != domain.StatusPending {
		sub := &domain.Submission{
			TestID:       *m.TestID,
			FilterPhrase: deref(m.FilterPhrase),
			Recipients:   splitRecipients(deref(m.Recipients)),
			TestURL:      deref(m.TestURL),
		}
		if m.SubmittedAt != nil {
			sub.SubmittedAt = *m.SubmittedAt
		}
		r.Submission = sub
	}

	switch m.Status {
	case domain.StatusCompleted:
		res := &domain.Result{
			Provider: domain.Provider(deref(m.Provider)),
			Outcome:  domain.Outcome(deref(m.Outcome)),
		}
		if m.Placements != nil {
			res.Placements = decodePlacements(*m.Placements)
		}
		if m.RawResult != nil {
			res.Raw = []byte(*m.RawResult)
		}
		if m.ResolvedAt != nil {
			res.ResolvedAt = *m.ResolvedAt
		}
		r.Result = res
	case domain.StatusFailed:
		f := &domain.Failure{Reason: deref(m.FailureReason)}
		if m.FailedAt != nil {
			f.FailedAt = *m.FailedAt
		}
		r.Failure = f
	}

	return r
}

type placementModel struct {
	Seeds int `json:"seeds"`
	Inbox int `json:"inbox"`
	Spam  int `json:"spam"`
}

func encodePlacements(placements map[domain.Provider]domain.Placement) (*string, error) {
	if len(placements) == 0 {
		return nil, nil
	}
	out := make(map[string]placementModel, len(placements))
	for p, pl := range placements {
		out[p.String()] = placementModel(pl)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	encoded := string(b)
	return &encoded, nil
}

// decodePlacements drops an unreadable column; the record-level outcome still stands.
func decodePlacements(s string) map[domain.Provider]domain.Placement {
	var in map[string]placementModel
	if err := json.Unmarshal([]byte(s), &in); err != nil || len(in) == 0 {
		return nil
	}
	out := make(map[domain.Provider]domain.Placement, len(in))
	for p, pl := range in {
		out[domain.Provider(p)] = domain.Placement(pl)
	}
	return out
}

func joinRecipients(recipients []string) string {
	return strings.Join(recipients, ",")
}

func splitRecipients(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
