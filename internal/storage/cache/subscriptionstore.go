// Package cache adds a Redis read-aside layer on top of any subscription
// store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedSubscriptionStore is a decorator that adds read-aside caching to any
// SubscriptionStore. Lookups are cached by device id; an endpoint index key
// lets endpoint-driven invalidation (410/404 cleanup) evict the right device
// entry. Expired entries that outlive an external purge are harmless: the
// dispatch engine re-checks the cached expiration time on every dispatch.
type CachedSubscriptionStore struct {
	realStore pusher.SubscriptionStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedSubscriptionStore(realStore pusher.SubscriptionStore, cache CacheClient, ttl time.Duration) *CachedSubscriptionStore {
	return &CachedSubscriptionStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedSubscriptionStore) FindByDevice(ctx context.Context, deviceID string) (*pusher.Subscription, error) {
	key := deviceKey(deviceID)

	var cached pusher.Subscription
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.FindByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		// Absence is not cached: a fresh subscribe must be visible immediately.
		return nil, nil
	}

	// Populate cache (fire and forget). If Redis is down we just serve from
	// the real store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	_ = s.cache.Set(ctx, endpointKey(fresh.Endpoint), fresh.DeviceID, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedSubscriptionStore) Upsert(ctx context.Context, sub pusher.Subscription) (pusher.Subscription, error) {
	stored, err := s.realStore.Upsert(ctx, sub)
	if err != nil {
		return pusher.Subscription{}, err
	}

	// The endpoint may have belonged to a different device before this write.
	s.invalidateEndpoint(ctx, stored.Endpoint)
	_ = s.cache.Del(ctx, deviceKey(stored.DeviceID))
	return stored, nil
}

func (s *CachedSubscriptionStore) DeleteByDevices(ctx context.Context, deviceIDs []string) ([]pusher.Subscription, error) {
	removed, err := s.realStore.DeleteByDevices(ctx, deviceIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range deviceIDs {
		_ = s.cache.Del(ctx, deviceKey(id))
	}
	for _, sub := range removed {
		_ = s.cache.Del(ctx, endpointKey(sub.Endpoint))
	}
	return removed, nil
}

func (s *CachedSubscriptionStore) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	removed, err := s.realStore.DeleteByEndpoint(ctx, endpoint)
	if err != nil {
		return false, err
	}
	s.invalidateEndpoint(ctx, endpoint)
	return removed, nil
}

func (s *CachedSubscriptionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return s.realStore.PurgeExpired(ctx, now)
}

// --- Helpers ---

func (s *CachedSubscriptionStore) invalidateEndpoint(ctx context.Context, endpoint string) {
	var deviceID string
	if err := s.cache.Get(ctx, endpointKey(endpoint), &deviceID); err == nil && deviceID != "" {
		_ = s.cache.Del(ctx, deviceKey(deviceID))
	}
	_ = s.cache.Del(ctx, endpointKey(endpoint))
}

func deviceKey(deviceID string) string {
	return fmt.Sprintf("pusher:sub:%s", deviceID)
}

func endpointKey(endpoint string) string {
	return fmt.Sprintf("pusher:endpoint:%s", endpoint)
}
