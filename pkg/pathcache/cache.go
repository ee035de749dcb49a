// Package pathcache memoizes canonical filesystem paths for the breakpoint
// matcher.
//
// The cache is direct-mapped: every raw path hashes to exactly one bucket and
// a miss overwrites whatever the bucket held. There is no chaining and no LRU.
// Colliding paths thrash the bucket but never produce a wrong answer, since a
// hit requires the stored raw path to equal the input byte for byte.
//
// A Canonicalizer is not safe for concurrent use.
package pathcache

import (
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// DefaultCapacity is the number of buckets used when none is configured.
const DefaultCapacity = 2048

type entry struct {
	valid     bool
	raw       string
	canonical string
	resolved  bool
}

// Canonicalizer maps raw paths to canonical paths through a direct-mapped cache.
type Canonicalizer struct {
	resolver Resolver
	logger   *zap.SugaredLogger
	stats    tally.Scope

	hits      tally.Counter
	missCount tally.Counter
	table     []entry
	disabled  bool
	misses    int
}

// Option customizes a Canonicalizer.
type Option func(*Canonicalizer)

// WithCapacity sets the number of buckets. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(c *Canonicalizer) {
		if n > 0 {
			c.table = make([]entry, n)
		}
	}
}

// WithResolver overrides the filesystem resolver.
func WithResolver(r Resolver) Option {
	return func(c *Canonicalizer) {
		c.resolver = r
	}
}

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Canonicalizer) {
		c.logger = logger
	}
}

// WithStats reports hits and misses to the given scope.
func WithStats(stats tally.Scope) Option {
	return func(c *Canonicalizer) {
		c.stats = stats
	}
}

// WithDisabled starts the canonicalizer with caching turned off.
func WithDisabled(disabled bool) Option {
	return func(c *Canonicalizer) {
		c.disabled = disabled
	}
}

// New creates a Canonicalizer backed by the local filesystem unless
// WithResolver says otherwise.
func New(opts ...Option) *Canonicalizer {
	c := &Canonicalizer{
		resolver: NewOSResolver(),
		logger:   zap.NewNop().Sugar(),
		stats:    tally.NoopScope,
		table:    make([]entry, DefaultCapacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.hits = c.stats.Counter("pathcache.hit")
	c.missCount = c.stats.Counter("pathcache.miss")
	return c
}

// Capacity returns the number of buckets.
func (c *Canonicalizer) Capacity() int {
	return len(c.table)
}

// Canonicalize returns the canonical form of raw. When raw cannot be resolved
// it is returned unchanged with resolved set to false.
func (c *Canonicalizer) Canonicalize(raw string) (canonical string, resolved bool) {
	if c.disabled {
		return c.resolve(raw)
	}

	e := &c.table[c.bucket(raw)]
	if e.valid && e.raw == raw {
		c.hits.Inc(1)
		return e.canonical, e.resolved
	}

	c.misses++
	c.missCount.Inc(1)

	canonical, resolved = c.resolve(raw)
	*e = entry{
		valid:     true,
		raw:       raw,
		canonical: canonical,
		resolved:  resolved,
	}
	return canonical, resolved
}

// Misses returns how many lookups missed the cache since creation.
// Lookups made while the cache is disabled are not counted.
func (c *Canonicalizer) Misses() int {
	return c.misses
}

// DisableCache turns caching off or back on and clears the table either way.
// It returns the new disabled state.
func (c *Canonicalizer) DisableCache(disable bool) bool {
	c.disabled = disable
	c.Reset()
	return c.disabled
}

// Disabled reports whether caching is off.
func (c *Canonicalizer) Disabled() bool {
	return c.disabled
}

// Reset drops every cached entry. The miss counter is kept.
func (c *Canonicalizer) Reset() {
	for i := range c.table {
		c.table[i] = entry{}
	}
}

func (c *Canonicalizer) bucket(raw string) int {
	return int(hashPath(raw) % uint32(len(c.table)))
}

func (c *Canonicalizer) resolve(raw string) (string, bool) {
	canonical, err := c.resolver.Resolve(raw)
	if err != nil {
		c.logger.Debugw("path not resolvable, using it as is", "path", raw, "error", err)
		return raw, false
	}
	return canonical, true
}
