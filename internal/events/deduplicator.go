package events

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// deduplicator suppresses events whose DedupeKey was seen within the window.
// The thermal warning callback fires on every sample while warm, which would
// otherwise flood the broker.
type deduplicator struct {
	seen *cache.Cache
}

func newDeduplicator(window time.Duration) *deduplicator {
	if window <= 0 {
		return nil
	}
	// No janitor goroutine: the key space is a handful of event levels and
	// Add already ignores expired entries.
	return &deduplicator{seen: cache.New(window, 0)}
}

// allow reports whether an event with key should be delivered. Add is atomic,
// so concurrent publishers of the same key let exactly one through.
func (d *deduplicator) allow(key string) bool {
	if d == nil || key == "" {
		return true
	}
	return d.seen.Add(key, struct{}{}, cache.DefaultExpiration) == nil
}

func (d *deduplicator) flush() {
	if d != nil {
		d.seen.Flush()
	}
}
