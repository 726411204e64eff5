package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/placement-engine/internal/domain"
)

// Locker grants exclusive access to a key. Lock does not wait: a key that is
// already held yields domain.ErrConflict.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

var _ Locker = (*KeyedLocker)(nil)

// KeyedLocker is an in-process Locker.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: make(map[string]struct{})}
}

func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%w: %s is locked by another run", domain.ErrConflict, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
