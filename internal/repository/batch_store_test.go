package repository_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/infra/database"
	"github.com/kursadbilgin/placement-engine/internal/repository"
	"gorm.io/gorm"
)

func openStore(t *testing.T, path string) (*repository.GormBatchStore, *gorm.DB) {
	t.Helper()

	db, err := database.Open("", path)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return repository.NewGormBatchStore(db), db
}

func newStore(t *testing.T) *repository.GormBatchStore {
	t.Helper()
	store, _ := openStore(t, filepath.Join(t.TempDir(), "placement.db"))
	return store
}

func roster(n int) []domain.Account {
	accounts := make([]domain.Account, 0, n)
	for i := 1; i <= n; i++ {
		accounts = append(accounts, domain.Account{
			FromName:  fmt.Sprintf("Sender %d", i),
			FromEmail: fmt.Sprintf("sender%d@domain%d.com", i, i),
			Password:  "pw",
			SMTPHost:  "smtp.example.com",
		})
	}
	return accounts
}

func submission(id string) domain.Submission {
	return domain.Submission{
		TestID:       id,
		FilterPhrase: "phrase-" + id,
		Recipients:   []string{"seed1@gmail.com", "seed2@outlook.com"},
		TestURL:      "https://app.example.test/" + id,
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	created, err := store.Create(ctx, "acme", "q1", roster(3))
	if err != nil {
		t.Fatalf("Create() unexpected error = %v", err)
	}
	if created.ID == "" || created.DomainsProcessed != 0 || len(created.Roster) != 3 {
		t.Fatalf("Create() = %+v", created)
	}

	got, err := store.Get(ctx, "acme", "q1")
	if err != nil {
		t.Fatalf("Get() unexpected error = %v", err)
	}
	if got.ID != created.ID || len(got.Roster) != 3 || got.Roster[2].FromEmail != "sender3@domain3.com" {
		t.Fatalf("Get() = %+v", got)
	}

	records, err := store.Records(ctx, got.ID)
	if err != nil {
		t.Fatalf("Records() unexpected error = %v", err)
	}
	for i, r := range records {
		if r.Status != domain.StatusPending || r.Position != i {
			t.Fatalf("record %d = %+v, want pending at position %d", i, r, i)
		}
	}

	if _, err := store.Create(ctx, "acme", "q1", roster(1)); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Create() duplicate error = %v, want ErrAlreadyExists", err)
	}
	if _, err := store.Create(ctx, "other", "q1", roster(1)); err != nil {
		t.Fatalf("Create() same name for another customer error = %v", err)
	}
	if _, err := store.Get(ctx, "acme", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestCreateRejectsBadRoster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	if _, err := store.Create(ctx, "acme", "empty", nil); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("Create() empty roster error = %v, want ErrMalformedInput", err)
	}

	dup := append(roster(1), domain.Account{FromEmail: "SENDER1@domain1.com", Password: "x", SMTPHost: "h"})
	if _, err := store.Create(ctx, "acme", "dup", dup); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("Create() duplicate account error = %v, want ErrMalformedInput", err)
	}
	if _, err := store.Create(ctx, "acme", "../x", roster(1)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create() bad name error = %v, want ErrValidation", err)
	}
}

func TestNextUnprocessedRespectsLimitAndOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	batch, err := store.Create(ctx, "acme", "q1", roster(5))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.MarkSubmitted(ctx, batch.ID, "sender1@domain1.com", submission("t1")); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}

	tests := []struct {
		limit int
		want  []string
	}{
		{limit: 0, want: nil},
		{limit: 2, want: []string{"sender2@domain2.com", "sender3@domain3.com"}},
		{limit: 10, want: []string{"sender2@domain2.com", "sender3@domain3.com", "sender4@domain4.com", "sender5@domain5.com"}},
	}
	for _, tt := range tests {
		got, err := store.NextUnprocessed(ctx, batch.ID, tt.limit)
		if err != nil {
			t.Fatalf("NextUnprocessed(%d) error = %v", tt.limit, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("NextUnprocessed(%d) len = %d, want %d", tt.limit, len(got), len(tt.want))
		}
		for i := range got {
			if got[i].AccountID() != tt.want[i] || got[i].Status != domain.StatusPending {
				t.Fatalf("NextUnprocessed(%d)[%d] = %s/%s, want %s", tt.limit, i, got[i].AccountID(), got[i].Status, tt.want[i])
			}
		}
	}
}

func TestMarkSubmittedTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	batch, err := store.Create(ctx, "acme", "q1", roster(2))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.MarkSubmitted(ctx, batch.ID, "Sender1@Domain1.com", submission("t1")); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}
	if err := store.MarkSubmitted(ctx, batch.ID, "sender1@domain1.com", submission("t1b")); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkSubmitted() twice error = %v, want ErrInvalidTransition", err)
	}
	if err := store.MarkSubmitted(ctx, batch.ID, "nobody@x.com", submission("t9")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkSubmitted() unknown account error = %v, want ErrNotFound", err)
	}
	if err := store.MarkSubmitted(ctx, batch.ID, "sender2@domain2.com", domain.Submission{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("MarkSubmitted() without test id error = %v, want ErrValidation", err)
	}

	got, err := store.Get(ctx, "acme", "q1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DomainsProcessed != 1 {
		t.Fatalf("DomainsProcessed = %d, want 1", got.DomainsProcessed)
	}

	submitted, err := store.SubmittedRecords(ctx, batch.ID)
	if err != nil {
		t.Fatalf("SubmittedRecords() error = %v", err)
	}
	if len(submitted) != 1 {
		t.Fatalf("SubmittedRecords() len = %d, want 1", len(submitted))
	}
	sub := submitted[0].Submission
	if sub == nil || sub.TestID != "t1" || len(sub.Recipients) != 2 || sub.SubmittedAt.IsZero() {
		t.Fatalf("submission = %+v", sub)
	}
	if err := submitted[0].Validate(); err != nil {
		t.Fatalf("submitted record invalid: %v", err)
	}
}

func TestMarkResultIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	batch, err := store.Create(ctx, "acme", "q1", roster(1))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	account := "sender1@domain1.com"

	inbox := domain.Result{Provider: domain.ProviderGoogle, Outcome: domain.OutcomeInbox, Raw: []byte(`{"a":1}`)}
	if err := store.MarkResult(ctx, batch.ID, account, inbox); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkResult() on pending error = %v, want ErrInvalidTransition", err)
	}

	if err := store.MarkSubmitted(ctx, batch.ID, account, submission("t1")); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}
	if err := store.MarkResult(ctx, batch.ID, account, inbox); err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}
	if err := store.MarkResult(ctx, batch.ID, account, inbox); err != nil {
		t.Fatalf("MarkResult() repeat error = %v, want nil", err)
	}

	spam := domain.Result{Provider: domain.ProviderGoogle, Outcome: domain.OutcomeSpam}
	if err := store.MarkResult(ctx, batch.ID, account, spam); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkResult() conflicting error = %v, want ErrInvalidTransition", err)
	}
	if err := store.MarkFailed(ctx, batch.ID, account, "late failure"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkFailed() on completed error = %v, want ErrInvalidTransition", err)
	}

	records, err := store.Records(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	r := records[0]
	if r.Status != domain.StatusCompleted || r.Result == nil || r.Result.Outcome != domain.OutcomeInbox || string(r.Result.Raw) != `{"a":1}` {
		t.Fatalf("record = %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("completed record invalid: %v", err)
	}

	resolved, err := store.IsFullyResolved(ctx, batch.ID)
	if err != nil || !resolved {
		t.Fatalf("IsFullyResolved() = %v, %v; want true", resolved, err)
	}
}

func TestMarkResultRepeatWithDefaultedFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	batch, err := store.Create(ctx, "acme", "q1", roster(1))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	account := "sender1@domain1.com"
	if err := store.MarkSubmitted(ctx, batch.ID, account, submission("t1")); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}

	// No provider and an unrecognized outcome are stored as UNKNOWN.
	res := domain.Result{Outcome: domain.OutcomeInbox}
	if err := store.MarkResult(ctx, batch.ID, account, res); err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}
	if err := store.MarkResult(ctx, batch.ID, account, res); err != nil {
		t.Fatalf("MarkResult() repeat error = %v, want nil", err)
	}

	odd := domain.Result{Provider: domain.ProviderGoogle, Outcome: "BOUNCED"}
	if err := store.MarkResult(ctx, batch.ID, account, odd); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkResult() conflicting error = %v, want ErrInvalidTransition", err)
	}

	records, err := store.Records(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	got := records[0].Result
	if got == nil || got.Provider != domain.ProviderUnknown || got.Outcome != domain.OutcomeInbox {
		t.Fatalf("result = %+v, want UNKNOWN/INBOX", got)
	}
}

func TestMarkResultServiceFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	batch, err := store.Create(ctx, "acme", "q1", roster(1))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	account := "sender1@domain1.com"
	if err := store.MarkSubmitted(ctx, batch.ID, account, submission("t1")); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}

	failed := domain.Result{Error: "test expired"}
	if err := store.MarkResult(ctx, batch.ID, account, failed); err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}
	if err := store.MarkResult(ctx, batch.ID, account, failed); err != nil {
		t.Fatalf("MarkResult() repeat failure error = %v", err)
	}

	records, err := store.Records(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if records[0].Status != domain.StatusFailed || records[0].Failure == nil || records[0].Failure.Reason != "test expired" {
		t.Fatalf("record = %+v", records[0])
	}
	if records[0].Submission == nil || records[0].Submission.TestID != "t1" {
		t.Fatalf("failed record lost its submission: %+v", records[0])
	}
}

func TestMarkFailedFromPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	batch, err := store.Create(ctx, "acme", "q1", roster(2))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	account := "sender1@domain1.com"

	if err := store.MarkFailed(ctx, batch.ID, account, "registration rejected"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := store.MarkFailed(ctx, batch.ID, account, "registration rejected"); err != nil {
		t.Fatalf("MarkFailed() repeat error = %v, want nil", err)
	}
	if err := store.MarkFailed(ctx, batch.ID, account, "something else"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkFailed() different reason error = %v, want ErrInvalidTransition", err)
	}
	if err := store.MarkSubmitted(ctx, batch.ID, account, submission("t1")); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkSubmitted() after failure error = %v, want ErrInvalidTransition", err)
	}

	got, err := store.Get(ctx, "acme", "q1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DomainsProcessed != 1 {
		t.Fatalf("DomainsProcessed = %d, want 1", got.DomainsProcessed)
	}

	resolved, err := store.IsFullyResolved(ctx, batch.ID)
	if err != nil || resolved {
		t.Fatalf("IsFullyResolved() = %v, %v; want false", resolved, err)
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "placement.db")

	db, err := database.Open("", path)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	store := repository.NewGormBatchStore(db)
	batch, err := store.Create(ctx, "acme", "q1", roster(3))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.MarkSubmitted(ctx, batch.ID, "sender1@domain1.com", submission("t1")); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}
	if _, err := store.IncrementRun(ctx, batch.ID); err != nil {
		t.Fatalf("IncrementRun() error = %v", err)
	}
	if err := database.Close(db); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, _ := openStore(t, path)
	got, err := reopened.Get(ctx, "acme", "q1")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got.DomainsProcessed != 1 || got.RunCount != 1 {
		t.Fatalf("batch after reopen = %+v", got)
	}
	next, err := reopened.NextUnprocessed(ctx, got.ID, 10)
	if err != nil {
		t.Fatalf("NextUnprocessed() error = %v", err)
	}
	if len(next) != 2 || next[0].AccountID() != "sender2@domain2.com" {
		t.Fatalf("NextUnprocessed() after reopen = %+v", next)
	}
}

func TestListDeleteAndRunCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	first, err := store.Create(ctx, "acme", "a", roster(1))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := store.Create(ctx, "acme", "b", roster(1)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	batches, err := store.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(batches) != 2 || batches[0].Name != "a" || batches[1].Name != "b" {
		t.Fatalf("List() = %+v", batches)
	}

	for want := 1; want <= 2; want++ {
		got, err := store.IncrementRun(ctx, first.ID)
		if err != nil || got != want {
			t.Fatalf("IncrementRun() = %d, %v; want %d", got, err, want)
		}
	}

	if err := store.Delete(ctx, "acme", "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "acme", "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Delete() twice error = %v, want ErrNotFound", err)
	}
	records, err := store.Records(ctx, first.ID)
	if err != nil || len(records) != 0 {
		t.Fatalf("Records() after delete = %d, %v", len(records), err)
	}
	if _, err := store.IncrementRun(ctx, first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("IncrementRun() deleted batch error = %v, want ErrNotFound", err)
	}
	if _, err := store.IsFullyResolved(ctx, first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("IsFullyResolved() deleted batch error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentTransitionsFailLoudly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	batch, err := store.Create(ctx, "acme", "q1", roster(1))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const writers = 4
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.MarkSubmitted(ctx, batch.ID, "sender1@domain1.com", submission(fmt.Sprintf("t%d", i)))
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected error = %v", err)
		}
	}
	if ok != 1 || rejected != writers-1 {
		t.Fatalf("ok = %d, rejected = %d; want 1 and %d", ok, rejected, writers-1)
	}

	got, err := store.Get(ctx, "acme", "q1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DomainsProcessed != 1 {
		t.Fatalf("DomainsProcessed = %d, want 1", got.DomainsProcessed)
	}
}

func TestMarkResultKeepsPlacements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	batch, err := store.Create(ctx, "acme", "q1", roster(1))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	account := "sender1@domain1.com"
	if err := store.MarkSubmitted(ctx, batch.ID, account, submission("t1")); err != nil {
		t.Fatalf("MarkSubmitted() error = %v", err)
	}

	placements := map[domain.Provider]domain.Placement{
		domain.ProviderGoogle:    {Seeds: 2, Inbox: 2},
		domain.ProviderMicrosoft: {Seeds: 2, Spam: 2},
	}
	res := domain.Result{Provider: domain.ProviderUnknown, Outcome: domain.OutcomeSpam, Placements: placements}
	if err := store.MarkResult(ctx, batch.ID, account, res); err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}

	records, err := store.Records(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	got := records[0].Result
	if got == nil || len(got.Placements) != 2 {
		t.Fatalf("result = %+v, want two placements", got)
	}
	for p, want := range placements {
		if got.Placements[p] != want {
			t.Fatalf("Placements[%s] = %+v, want %+v", p, got.Placements[p], want)
		}
	}
}
