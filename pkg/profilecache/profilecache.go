// Package profilecache keeps assembled profiles in memory for a short time.
package profilecache

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
)

// DefaultTTL is how long a profile is served from memory after insertion.
const DefaultTTL = 5 * time.Minute

// Stats describes cache occupancy and effectiveness.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Loader builds the profile for a key on a cache miss.
type Loader func(ctx context.Context) (*profile.Profile, error)

// Cache is a concurrency-safe TTL cache of profiles keyed by lowercased username.
type Cache struct {
	entries *expirable.LRU[string, *profile.Profile]
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	ttl        time.Duration
	maxEntries int
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithMaxEntries bounds the cache, evicting least recently used profiles.
// Zero leaves it unbounded.
func WithMaxEntries(n int) Option {
	return func(c *config) { c.maxEntries = n }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New creates a Cache.
func New(opts ...Option) *Cache {
	cfg := &config{logger: slog.Default(), ttl: DefaultTTL}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Cache{
		entries: expirable.NewLRU[string, *profile.Profile](max(0, cfg.maxEntries), nil, cfg.ttl),
		logger:  cfg.logger,
	}
}

// Key normalizes a username into a cache key.
func Key(username string) string {
	return strings.ToLower(username)
}

// Get returns the unexpired profile stored under key.
func (c *Cache) Get(key string) (*profile.Profile, bool) {
	p, ok := c.entries.Get(Key(key))
	if ok {
		c.hits.Add(1)
	}
	return p, ok
}

// Set stores p under key, restarting its TTL.
func (c *Cache) Set(key string, p *profile.Profile) {
	c.entries.Add(Key(key), p)
}

// GetOrLoad returns the cached profile for key, or runs load once for all
// concurrent callers missing the same key and caches its result.
//
// The load runs detached from ctx so one caller giving up does not fail the
// others; a cancelled caller returns ctx.Err() while the load continues.
// Errors are returned to every waiting caller and never cached. load must
// not panic.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load Loader) (*profile.Profile, error) {
	key = Key(key)
	if p, ok := c.Get(key); ok {
		c.logger.DebugContext(ctx, "profile cache hit", "key", key)
		return p, nil
	}
	c.misses.Add(1)

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A load that finished just before this one started already filled the entry.
		if p, ok := c.entries.Get(key); ok {
			return p, nil
		}
		c.logger.DebugContext(detached, "profile cache miss", "key", key)
		p, err := load(detached)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.DebugContext(ctx, "joined in-flight profile load", "key", key)
		}
		return res.Val.(*profile.Profile), nil //nolint:errcheck,forcetypeassert // only profiles are stored
	}
}

// Len returns the number of stored entries, including any not yet purged.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Stats returns current occupancy and hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Entries: c.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}
