// Package dedup canonicalizes request bodies into a stable cache key,
// coalesces concurrent identical in-flight requests onto a single upstream
// dispatch, and caches completed responses for a bounded TTL. It plays the
// same role as the teacher's idempotency.Cache, but keys on the
// canonicalized request body instead of a client-supplied header, and adds
// in-flight coalescing so concurrent duplicate requests share one upstream
// call instead of each hitting idempotency.Cache's empty-on-miss path.
package dedup

import (
	"sync"
	"time"
)

// CachedResponse is a captured upstream response, replayed verbatim to
// every waiter on a dedup hit.
type CachedResponse struct {
	Status      int
	Headers     map[string]string
	Body        []byte
	CompletedAt time.Time
}

// inflightEntry tracks a request currently being dispatched upstream.
// Waiters block on done, which is closed exactly once by complete or
// removeInflight.
type inflightEntry struct {
	done     chan struct{}
	response CachedResponse
	err      error
}

// ErrOriginFailed is the error every waiter on an in-flight entry receives
// when the original dispatch fails. Callers translate this into the
// synthetic 503 dedup_origin_failed JSON body.
type ErrOriginFailed struct{}

func (ErrOriginFailed) Error() string { return "original request failed, please retry" }

// Config parameterizes the cache.
type Config struct {
	TTL         time.Duration
	MaxBodySize int
}

// DefaultConfig matches spec defaults: 30s TTL, 1MiB cap on cached bodies.
func DefaultConfig() Config {
	return Config{
		TTL:         30 * time.Second,
		MaxBodySize: 1 << 20,
	}
}

// Cache implements the dedup cache described in spec §4.E.
type Cache struct {
	cfg Config

	mu        sync.Mutex
	completed map[string]CachedResponse
	inflight  map[string]*inflightEntry
}

// New returns a ready-to-use Cache.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:       cfg,
		completed: make(map[string]CachedResponse),
		inflight:  make(map[string]*inflightEntry),
	}
}

// GetCached returns a cached response for key if one exists and has not
// expired. A lazy hit evicts expired entries.
func (c *Cache) GetCached(key string) (CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getCachedLocked(key)
}

func (c *Cache) getCachedLocked(key string) (CachedResponse, bool) {
	resp, ok := c.completed[key]
	if !ok {
		return CachedResponse{}, false
	}
	if time.Since(resp.CompletedAt) > c.cfg.TTL {
		delete(c.completed, key)
		return CachedResponse{}, false
	}
	return resp, true
}

// Waiter is returned by GetInflight; callers block on Wait() to receive the
// eventual response or error.
type Waiter struct {
	entry *inflightEntry
}

// Wait blocks until the in-flight dispatch this waiter is attached to
// completes, returning its response or ErrOriginFailed.
func (w *Waiter) Wait() (CachedResponse, error) {
	<-w.entry.done
	return w.entry.response, w.entry.err
}

// GetInflight returns a Waiter for an already in-flight key, or false if no
// dispatch for key is currently in progress.
func (c *Cache) GetInflight(key string) (*Waiter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inflight[key]
	if !ok {
		return nil, false
	}
	return &Waiter{entry: e}, true
}

// MarkInflight registers key as in-flight. The caller must eventually call
// Complete or RemoveInflight exactly once for this key.
func (c *Cache) MarkInflight(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[key] = &inflightEntry{done: make(chan struct{})}
}

// Complete records a successful response, wakes every waiter, removes the
// in-flight entry, and prunes expired completed entries. Responses larger
// than MaxBodySize are not cached (but waiters still receive them).
func (c *Cache) Complete(key string, resp CachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp.CompletedAt = time.Now()

	e, ok := c.inflight[key]
	if !ok {
		e = &inflightEntry{done: make(chan struct{})}
	}
	e.response = resp
	close(e.done)
	delete(c.inflight, key)

	if len(resp.Body) <= c.cfg.MaxBodySize {
		c.completed[key] = resp
	}

	c.pruneLocked()
}

// RemoveInflight wakes every waiter with ErrOriginFailed and removes the
// in-flight entry without caching anything.
func (c *Cache) RemoveInflight(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.inflight[key]
	if !ok {
		return
	}
	e.err = ErrOriginFailed{}
	close(e.done)
	delete(c.inflight, key)
}

// Prune drops expired completed entries.
func (c *Cache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
}

func (c *Cache) pruneLocked() {
	now := time.Now()
	for k, resp := range c.completed {
		if now.Sub(resp.CompletedAt) > c.cfg.TTL {
			delete(c.completed, k)
		}
	}
}
