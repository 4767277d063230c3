// Package cache decouples the aggregator from the latency and
// unreliability of upstream sources. Entries are immutable once stored;
// staleness is handled by replacement, and a failed refresh serves the
// prior entry rather than an error. Per-entry staleness is deliberate:
// the dashboard advertises a view that may be out of date and
// inconsistent, never a single global snapshot time.
package cache

import (
	"sync"
	"time"

	"releasedash/src/logger"
)

// Entry wraps one fetched or parsed artifact. The payload is never
// mutated after creation.
type Entry struct {
	Fingerprint string
	Payload     []byte
	FetchedAt   time.Time
}

// Hit is the result of a successful Get: the payload plus enough metadata
// for the renderer to flag age and staleness.
type Hit struct {
	Payload   []byte
	FetchedAt time.Time
	// Stale marks a payload served past its TTL because a fresh load failed.
	Stale bool
}

// Loader produces a fresh payload for one fingerprint. Loaders perform no
// retries; a failure is cached-stale-or-absent, not retried.
type Loader func() ([]byte, error)

// Clock returns the current time. Injected so tests control expiry.
type Clock func() time.Time

// Cache is a process-local, fingerprint-keyed cache with an in-memory
// front and an optional persistent backend for warm restarts. Safe for
// concurrent readers; writes replace entries wholesale.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	backend Backend
	clock   Clock
	log     logger.Logger
}

// New creates a cache. backend may be nil for purely in-process caching;
// clock may be nil to use wall-clock time.
func New(backend Backend, clock Clock, log logger.Logger) *Cache {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Cache{
		entries: make(map[string]Entry),
		backend: backend,
		clock:   clock,
		log:     log,
	}
}

// Get returns the cached payload for fingerprint if one exists within
// ttl, loading a fresh one otherwise. ttl <= 0 means entries never
// expire on age alone (long-lived artifacts key freshness into the
// fingerprint instead).
//
// Failure policy: a loader failure with a prior entry returns that entry
// marked stale; a loader failure with no prior entry returns ok=false.
// Loader errors never propagate to the caller.
func (c *Cache) Get(fingerprint string, ttl time.Duration, loader Loader) (Hit, bool) {
	now := c.clock()

	entry, exists := c.lookup(fingerprint)
	if exists && fresh(entry, now, ttl) {
		return Hit{Payload: entry.Payload, FetchedAt: entry.FetchedAt}, true
	}

	payload, err := loader()
	if err != nil {
		if exists {
			c.log.Debug("cache: load failed for %s, serving stale entry from %s: %v",
				fingerprint, entry.FetchedAt.Format(time.RFC3339), err)
			return Hit{Payload: entry.Payload, FetchedAt: entry.FetchedAt, Stale: true}, true
		}
		c.log.Error("cache: load failed for %s with no prior entry: %v", fingerprint, err)
		return Hit{}, false
	}

	entry = Entry{Fingerprint: fingerprint, Payload: payload, FetchedAt: now}
	c.store(entry)
	return Hit{Payload: payload, FetchedAt: now}, true
}

// Peek returns the current entry without loading. Used by the aggregator
// to compare fetch timestamps across entries.
func (c *Cache) Peek(fingerprint string) (Entry, bool) {
	return c.lookup(fingerprint)
}

func fresh(entry Entry, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	return now.Sub(entry.FetchedAt) <= ttl
}

func (c *Cache) lookup(fingerprint string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	if c.backend == nil {
		return Entry{}, false
	}

	entry, ok, err := c.backend.Load(fingerprint)
	if err != nil {
		// A broken backend degrades to a miss; the loader path still works.
		c.log.Error("cache: backend load failed for %s: %v", fingerprint, err)
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	c.mu.Lock()
	c.entries[fingerprint] = entry
	c.mu.Unlock()
	return entry, true
}

func (c *Cache) store(entry Entry) {
	c.mu.Lock()
	c.entries[entry.Fingerprint] = entry
	c.mu.Unlock()

	if c.backend == nil {
		return
	}
	if err := c.backend.Store(entry); err != nil {
		c.log.Error("cache: backend store failed for %s: %v", entry.Fingerprint, err)
	}
}

// Close releases the persistent backend, if any.
func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
