package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kursadbilgin/placement-engine/internal/domain"
)

func TestPaths(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "data")
	p, err := NewPaths(root)
	if err != nil {
		t.Fatalf("NewPaths() unexpected error = %v", err)
	}

	if got := p.DatabasePath(); got != filepath.Join(root, "placement.db") {
		t.Fatalf("DatabasePath() = %q", got)
	}

	dir, err := p.BatchDir("acme", "q1")
	if err != nil {
		t.Fatalf("BatchDir() unexpected error = %v", err)
	}
	if dir != filepath.Join(root, "customers", "acme", "batches", "q1") {
		t.Fatalf("BatchDir() = %q", dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("BatchDir() did not create %q: %v", dir, err)
	}

	customerDir, err := p.CustomerDir("acme")
	if err != nil {
		t.Fatalf("CustomerDir() unexpected error = %v", err)
	}
	if customerDir != filepath.Join(root, "customers", "acme") {
		t.Fatalf("CustomerDir() = %q", customerDir)
	}

	if err := os.WriteFile(filepath.Join(dir, "report.csv"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := p.RemoveBatchDir("acme", "q1"); err != nil {
		t.Fatalf("RemoveBatchDir() unexpected error = %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("batch dir still present: %v", err)
	}
	if _, err := os.Stat(customerDir); err != nil {
		t.Fatalf("customer dir removed with the batch: %v", err)
	}
	if err := p.RemoveBatchDir("acme", "q1"); err != nil {
		t.Fatalf("RemoveBatchDir() on missing dir error = %v", err)
	}
	if err := p.RemoveBatchDir("acme", ".."); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("RemoveBatchDir() error = %v, want ErrValidation", err)
	}
}

func TestPathsRejectsTraversal(t *testing.T) {
	t.Parallel()

	p, err := NewPaths(t.TempDir())
	if err != nil {
		t.Fatalf("NewPaths() unexpected error = %v", err)
	}
	if _, err := p.BatchDir("acme", "../../etc"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("BatchDir() error = %v, want ErrValidation", err)
	}
	if _, err := NewPaths(""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("NewPaths(\"\") error = %v, want ErrValidation", err)
	}
}
