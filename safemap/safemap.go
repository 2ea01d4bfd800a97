// Package safemap provides a generic concurrency-safe keyed store.
//
// Every shared map in ghostlet (completion cache, correlation records, open
// documents, workspace folders) is a Map. Values are copied out on read and
// replaced whole on write, so callers never hold a live reference into the
// store across a suspension point.
package safemap

import (
	"context"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Entry is a key/value pair returned by Snapshot.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Option configures a Map.
type Option[K comparable, V any] func(*Map[K, V])

// WithTTL expires entries ttl after their last insert. Zero disables expiry.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(m *Map[K, V]) { m.ttl = ttl }
}

// WithClone sets the function used to copy values out of the map.
// Without it, values are returned by plain assignment.
func WithClone[K comparable, V any](clone func(V) V) Option[K, V] {
	return func(m *Map[K, V]) { m.clone = clone }
}

// OnExpire registers a callback run (on its own goroutine) when an entry
// expires. Explicit removals do not trigger it.
func OnExpire[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(m *Map[K, V]) { m.onExpire = fn }
}

// Map is a thread-safe mapping from K to V.
type Map[K comparable, V any] struct {
	cache    *ttlcache.Cache[K, V]
	ttl      time.Duration
	clone    func(V) V
	onExpire func(K, V)
}

// New creates an empty Map.
func New[K comparable, V any](opts ...Option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	for _, opt := range opts {
		opt(m)
	}

	cacheOpts := []ttlcache.Option[K, V]{
		ttlcache.WithDisableTouchOnHit[K, V](),
	}
	if m.ttl > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithTTL[K, V](m.ttl))
	}
	m.cache = ttlcache.New[K, V](cacheOpts...)

	if m.onExpire != nil {
		fn := m.onExpire
		m.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[K, V]) {
			if reason == ttlcache.EvictionReasonExpired {
				fn(item.Key(), item.Value())
			}
		})
	}

	// Expired entries are already invisible to reads; the loop only
	// reclaims memory, so it is not needed without a TTL.
	if m.ttl > 0 {
		go m.cache.Start()
	}
	return m
}

// Close stops the expiration loop, if any.
func (m *Map[K, V]) Close() {
	m.cache.Stop()
}

// Insert stores value under key, replacing any previous value.
func (m *Map[K, V]) Insert(key K, value V) {
	ttl := ttlcache.NoTTL
	if m.ttl > 0 {
		ttl = ttlcache.DefaultTTL
	}
	m.cache.Set(key, value, ttl)
}

// Get returns a copy of the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	item := m.cache.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return m.copyOut(item.Value()), true
}

// Remove atomically deletes key and returns the value it held. Of any number
// of concurrent Remove calls for the same key, exactly one observes the value.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	item, ok := m.cache.GetAndDelete(key)
	if !ok || item == nil {
		var zero V
		return zero, false
	}
	return m.copyOut(item.Value()), true
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	m.cache.DeleteAll()
}

// Len reports the number of live entries.
func (m *Map[K, V]) Len() int {
	return len(m.cache.Items())
}

// Snapshot returns a point-in-time copy of all live entries ordered by cmp.
// A nil cmp leaves the order unspecified.
func (m *Map[K, V]) Snapshot(cmp func(a, b K) int) []Entry[K, V] {
	items := m.cache.Items()
	entries := make([]Entry[K, V], 0, len(items))
	for k, item := range items {
		entries = append(entries, Entry[K, V]{Key: k, Value: m.copyOut(item.Value())})
	}
	if cmp != nil {
		slices.SortFunc(entries, func(a, b Entry[K, V]) int { return cmp(a.Key, b.Key) })
	}
	return entries
}

// RemoveFunc removes every entry for which match returns true and returns the
// removed entries. Each removal is individually atomic, so an entry consumed
// concurrently by Remove is not returned twice.
func (m *Map[K, V]) RemoveFunc(match func(K, V) bool) []Entry[K, V] {
	var removed []Entry[K, V]
	for k, item := range m.cache.Items() {
		if !match(k, item.Value()) {
			continue
		}
		if v, ok := m.Remove(k); ok {
			removed = append(removed, Entry[K, V]{Key: k, Value: v})
		}
	}
	return removed
}

func (m *Map[K, V]) copyOut(v V) V {
	if m.clone == nil {
		return v
	}
	return m.clone(v)
}
