package cache

import (
	"context"
	"time"

	"posledger/internal/domain"
)

// ReconciliationCache holds recently computed register summaries so the
// dashboard poll does not hit the read queries on every request. Entries
// are invalidated by key whenever a write lands in the window.
type ReconciliationCache interface {
	Get(ctx context.Context, key string) (*domain.ReconciliationSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.ReconciliationSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopReconciliationCache struct{}

func (NoopReconciliationCache) Get(_ context.Context, _ string) (*domain.ReconciliationSummary, bool, error) {
	return nil, false, nil
}

func (NoopReconciliationCache) Set(_ context.Context, _ string, _ *domain.ReconciliationSummary, _ time.Duration) error {
	return nil
}

func (NoopReconciliationCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
