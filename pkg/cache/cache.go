// Package cache holds a single-slot, explicitly constructed report cache
// with a fixed staleness window.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/allureboard/pkg/reports"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is the staleness window used when none is given.
const DefaultTTL = 5 * time.Minute

// State is the lifecycle state of a Cache.
type State string

const (
	StateEmpty   State = "empty"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Fetcher produces a fresh catalog snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (*reports.Snapshot, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*reports.Snapshot, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) (*reports.Snapshot, error) {
	return f(ctx)
}

// Entry is a point-in-time copy of the cache slot.
type Entry struct {
	State       State
	Snapshot    *reports.Snapshot
	LastFetched time.Time
	Err         error
}

// Cache is a session-scoped cache in front of a Fetcher. The zero value is
// not usable; construct with New.
type Cache struct {
	log     logrus.FieldLogger
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	entry Entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty cache. A ttl <= 0 uses DefaultTTL.
func New(
	log logrus.FieldLogger,
	fetcher Fetcher,
	ttl time.Duration,
	opts ...Option,
) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		log:     log.WithField("component", "cache"),
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		entry:   Entry{State: StateEmpty},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// TTL returns the staleness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns cached data when it is ready, fresh and force is false.
// Otherwise it fetches. On failure the cache enters the error state and
// keeps whatever data it held; the fetch error is returned.
func (c *Cache) Get(ctx context.Context, force bool) (*reports.Snapshot, error) {
	c.mu.Lock()

	if !force && c.entry.State == StateReady && !c.staleLocked() {
		snapshot := c.entry.Snapshot
		c.mu.Unlock()

		return snapshot, nil
	}

	c.entry.State = StateLoading
	c.mu.Unlock()

	start := c.now()

	snapshot, err := c.fetcher.Fetch(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.entry.State = StateError
		c.entry.Err = err

		c.log.WithError(err).Warn("Failed to refresh reports")

		return nil, fmt.Errorf("fetching reports: %w", err)
	}

	c.entry = Entry{
		State:       StateReady,
		Snapshot:    snapshot,
		LastFetched: c.now(),
	}

	c.log.WithFields(logrus.Fields{
		"forced":   force,
		"duration": c.now().Sub(start).Round(time.Millisecond),
	}).Debug("Reports cache refreshed")

	return snapshot, nil
}

// Clear resets the cache to empty.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entry = Entry{State: StateEmpty}
}

// Peek returns a copy of the slot without fetching.
func (c *Cache) Peek() Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entry
}

// Stale reports whether the cached data is older than the window. An empty
// cache is stale.
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.staleLocked()
}

func (c *Cache) staleLocked() bool {
	if c.entry.LastFetched.IsZero() {
		return true
	}

	return c.now().Sub(c.entry.LastFetched) >= c.ttl
}

// Status describes the age of the cached data.
func (c *Cache) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry.LastFetched.IsZero() {
		return "No data cached"
	}

	minutes := int(c.now().Sub(c.entry.LastFetched) / time.Minute)
	if minutes < 1 {
		return "Just updated"
	}

	return fmt.Sprintf("%d minutes ago", minutes)
}
