// Package dedupe keeps a bounded cache of event ids known to be persisted.
package dedupe

// Option applies a configuration option to the in-memory cache.
type Option func(*inMemoryCache)

// WithMaxSize sets the maximum number of ids kept in memory.
// If maxSize > 0 the cache evicts the oldest id once full.
// If maxSize <= 0 the cache is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(c *inMemoryCache) {
		c.maxSize = maxSize
	}
}
