package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsestack/pulse-detect/internal/cache"
)

// Tracker debounces rule firings per (rule, target) pair. Record is an
// atomic check-and-set: it reports false when another evaluation won the
// race or an unexpired entry already exists, so callers never need a
// separate lock around the suppression check.
type Tracker interface {
	IsSuppressed(ctx context.Context, ruleID, targetID string, now time.Time) bool
	Record(ctx context.Context, ruleID, targetID string, firedAt time.Time, cooldown time.Duration) bool
	Clear(ctx context.Context) error
}

func cooldownKey(ruleID, targetID string) string {
	return ruleID + "|" + targetID
}

// MemoryTracker is the single-instance Tracker backed by an in-process map.
// Entries expire logically: an entry past its deadline is treated as absent.
type MemoryTracker struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{expires: make(map[string]time.Time)}
}

// IsSuppressed reports whether the pair has an unexpired cooldown entry.
func (t *MemoryTracker) IsSuppressed(_ context.Context, ruleID, targetID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := cooldownKey(ruleID, targetID)
	deadline, ok := t.expires[key]
	if !ok {
		return false
	}
	if now.After(deadline) {
		delete(t.expires, key)
		return false
	}
	return true
}

// Record stores a cooldown entry unless an unexpired one already exists.
func (t *MemoryTracker) Record(_ context.Context, ruleID, targetID string, firedAt time.Time, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := cooldownKey(ruleID, targetID)
	if deadline, ok := t.expires[key]; ok && !firedAt.After(deadline) {
		return false
	}
	t.expires[key] = firedAt.Add(cooldown)
	return true
}

// Clear drops all suppression state.
func (t *MemoryTracker) Clear(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expires = make(map[string]time.Time)
	return nil
}

// CacheTracker backs cooldown state with a shared cache.Provider so multiple
// engine instances agree on suppression. SetNX with TTL=cooldown gives the
// atomic check-and-set; expiry is handled by the store.
type CacheTracker struct {
	provider cache.Provider
	prefix   string
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewCacheTracker creates a Tracker over the supplied provider. Keys are
// namespaced with prefix so several engines can share one cluster.
func NewCacheTracker(provider cache.Provider, prefix string, logger *slog.Logger) *CacheTracker {
	if prefix == "" {
		prefix = "cooldown"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheTracker{
		provider: provider,
		prefix:   prefix,
		logger:   logger,
		seen:     make(map[string]struct{}),
	}
}

func (t *CacheTracker) key(ruleID, targetID string) string {
	return fmt.Sprintf("%s:%s:%s", t.prefix, ruleID, targetID)
}

// IsSuppressed checks the shared store. Store errors fail open: a duplicate
// incident is the conservative failure direction, a missed one is not.
func (t *CacheTracker) IsSuppressed(ctx context.Context, ruleID, targetID string, _ time.Time) bool {
	_, err := t.provider.Get(ctx, t.key(ruleID, targetID))
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		t.logger.Warn("cooldown store read failed",
			slog.String("rule_id", ruleID), slog.String("target_id", targetID), slog.Any("error", err))
	}
	return false
}

// Record claims the pair via SetNX. A store error counts as acquired so a
// cache outage degrades to duplicates rather than missed incidents.
func (t *CacheTracker) Record(ctx context.Context, ruleID, targetID string, firedAt time.Time, cooldown time.Duration) bool {
	key := t.key(ruleID, targetID)
	ok, err := t.provider.SetNX(ctx, key, []byte(firedAt.UTC().Format(time.RFC3339)), cooldown)
	if err != nil {
		t.logger.Warn("cooldown store write failed",
			slog.String("rule_id", ruleID), slog.String("target_id", targetID), slog.Any("error", err))
		return true
	}
	if ok {
		t.mu.Lock()
		t.seen[key] = struct{}{}
		t.mu.Unlock()
	}
	return ok
}

// Clear deletes every key this instance has recorded. Keys written by other
// instances are left to expire on their own TTL.
func (t *CacheTracker) Clear(ctx context.Context) error {
	t.mu.Lock()
	keys := make([]string, 0, len(t.seen))
	for k := range t.seen {
		keys = append(keys, k)
	}
	t.seen = make(map[string]struct{})
	t.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := t.provider.Del(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
