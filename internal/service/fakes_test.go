package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/kursadbilgin/placement-engine/internal/infra/database"
	"github.com/kursadbilgin/placement-engine/internal/mailer"
	"github.com/kursadbilgin/placement-engine/internal/provider"
	"github.com/kursadbilgin/placement-engine/internal/ratelimit"
	"github.com/kursadbilgin/placement-engine/internal/repository"
)

func openTestStore(t *testing.T, path string) *repository.GormBatchStore {
	t.Helper()

	db, err := database.Open("", path)
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return repository.NewGormBatchStore(db)
}

func newTestStore(t *testing.T) *repository.GormBatchStore {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "placement.db"))
}

func testRoster(n int) []domain.Account {
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

func mustCreateBatch(t *testing.T, store repository.BatchStore, customer, name string, n int) *domain.Batch {
	t.Helper()

	batch, err := store.Create(context.Background(), customer, name, testRoster(n))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return batch
}

// testIDFor derives a stable test id from an account so fakes can map back.
func testIDFor(account domain.Account) string {
	return "test-" + account.Domain()
}

type fakeMeasurement struct {
	mu         sync.Mutex
	registered []string
	fetched    []string

	registerFn func(ctx context.Context, account domain.Account) (*provider.Registration, error)
	fetchFn    func(ctx context.Context, testID string) (*provider.TestResult, error)
}

func (f *fakeMeasurement) RegisterTest(ctx context.Context, account domain.Account) (*provider.Registration, error) {
	f.mu.Lock()
	f.registered = append(f.registered, account.ID())
	f.mu.Unlock()

	if f.registerFn != nil {
		return f.registerFn(ctx, account)
	}
	id := testIDFor(account)
	return &provider.Registration{
		TestID:       id,
		FilterPhrase: "phrase-" + id,
		Recipients:   []string{"seed1@gmail.com", "seed2@outlook.com"},
		TestURL:      "https://app.example.test/" + id,
	}, nil
}

func (f *fakeMeasurement) FetchResult(ctx context.Context, testID string) (*provider.TestResult, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, testID)
	f.mu.Unlock()

	if f.fetchFn != nil {
		return f.fetchFn(ctx, testID)
	}
	return &provider.TestResult{TestID: testID, Status: "in_progress"}, nil
}

func (f *fakeMeasurement) registeredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registered...)
}

func (f *fakeMeasurement) fetchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

var _ provider.MeasurementService = (*fakeMeasurement)(nil)

type fakeSender struct {
	mu     sync.Mutex
	sent   []mailer.Probe
	sendFn func(ctx context.Context, account domain.Account, probe mailer.Probe) error
}

func (f *fakeSender) Send(ctx context.Context, account domain.Account, probe mailer.Probe) error {
	if f.sendFn != nil {
		if err := f.sendFn(ctx, account, probe); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, probe)
	f.mu.Unlock()
	return nil
}

var _ mailer.Sender = (*fakeSender)(nil)

type fakePacer struct {
	mu     sync.Mutex
	waits  int
	waitFn func(ctx context.Context, key string) error
}

func (f *fakePacer) Wait(ctx context.Context, key string) error {
	f.mu.Lock()
	f.waits++
	f.mu.Unlock()
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.Pacer = (*fakePacer)(nil)

func completedResult(testID string, folders ...string) *provider.TestResult {
	seeds := make([]provider.SeedResult, 0, len(folders))
	for i, folder := range folders {
		seeds = append(seeds, provider.SeedResult{
			Email:    fmt.Sprintf("seed%d@gmail.com", i),
			Provider: "Google",
			Folder:   folder,
			Status:   "received",
		})
	}
	return &provider.TestResult{
		TestID: testID,
		Status: "completed",
		Seeds:  seeds,
		Raw:    []byte(`{"data":{"uuid":"` + testID + `","status":"completed"}}`),
	}
}

func recordsByAccount(t *testing.T, store repository.BatchStore, batchID string) map[string]domain.TestRecord {
	t.Helper()

	records, err := store.Records(context.Background(), batchID)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	out := make(map[string]domain.TestRecord, len(records))
	for _, r := range records {
		out[r.AccountID()] = r
	}
	return out
}
