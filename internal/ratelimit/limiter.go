package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out consecutive dispatches that share a key.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

var _ Pacer = (*LocalPacer)(nil)

// LocalPacer is an in-process Pacer allowing one dispatch per interval per key.
type LocalPacer struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalPacer(interval time.Duration) *LocalPacer {
	if interval < 0 {
		interval = 0
	}
	return &LocalPacer{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *LocalPacer) Wait(ctx context.Context, key string) error {
	limiter, err := p.limiter(key)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (p *LocalPacer) limiter(key string) (*rate.Limiter, error) {
	normalized := strings.TrimSpace(key)
	if normalized == "" {
		return nil, fmt.Errorf("pacer key is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[normalized]
	if !ok {
		limit := rate.Inf
		if p.interval > 0 {
			limit = rate.Every(p.interval)
		}
		limiter = rate.NewLimiter(limit, 1)
		p.limiters[normalized] = limiter
	}
	return limiter, nil
}
