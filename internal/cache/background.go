package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const minEvictionTick = time.Second

// RunRevalidation invalidates every observed entry once per interval until ctx is done.
// A non-positive interval disables revalidation and returns immediately.
func RunRevalidation(ctx context.Context, store *Store, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			count := store.InvalidateObserved()
			store.logger.Debug("revalidated observed cache entries", zap.Int("count", count))
		}
	}
}

// RunEviction drops entries idle for longer than retention until ctx is done.
// A non-positive retention keeps entries for the lifetime of the store.
func RunEviction(ctx context.Context, store *Store, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	tick := retention / 2
	if tick < minEvictionTick {
		tick = minEvictionTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			store.EvictIdle(retention)
		}
	}
}
