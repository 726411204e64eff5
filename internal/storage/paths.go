package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kursadbilgin/placement-engine/internal/domain"
)

const databaseFile = "placement.db"

// Paths resolves on-disk locations under a single storage root.
type Paths struct {
	root string
}

func NewPaths(root string) (*Paths, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: storage root is required", domain.ErrValidation)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Paths{root: abs}, nil
}

func (p *Paths) Root() string { return p.root }

func (p *Paths) DatabasePath() string {
	return filepath.Join(p.root, databaseFile)
}

// BatchDir returns the export directory for a batch, creating it if needed.
func (p *Paths) BatchDir(customer, batch string) (string, error) {
	if err := domain.ValidateBatchKey(customer, batch); err != nil {
		return "", err
	}
	dir := p.batchDir(customer, batch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}
	return dir, nil
}

// CustomerDir returns the export directory for customer-wide reports.
func (p *Paths) CustomerDir(customer string) (string, error) {
	if err := domain.ValidateKey("customer", customer); err != nil {
		return "", err
	}
	dir := filepath.Join(p.root, "customers", customer)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create customer dir: %w", err)
	}
	return dir, nil
}

// RemoveBatchDir deletes a batch's export directory. A missing directory is not an error.
func (p *Paths) RemoveBatchDir(customer, batch string) error {
	if err := domain.ValidateBatchKey(customer, batch); err != nil {
		return err
	}
	if err := os.RemoveAll(p.batchDir(customer, batch)); err != nil {
		return fmt.Errorf("remove batch dir: %w", err)
	}
	return nil
}

func (p *Paths) batchDir(customer, batch string) string {
	return filepath.Join(p.root, "customers", customer, "batches", batch)
}
