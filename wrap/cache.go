package wrap

import (
	"crypto/sha1"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/mtraver/base91"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "rw"

// RewriteCache memoizes rewrites. Results depend only on the template, the options and the source, so they are
// keyed by a digest of all of them. Recent entries are held decoded in memory in front of the Storage.
type RewriteCache struct {
	rewriter *Rewriter
	logger   *zap.Logger
	store    Storage
	front    *ristretto.Cache[string, CacheEntry]

	hits, misses atomic.Int64
}

// NewRewriteCache wraps rewriter with a cache persisted to store. frontMB bounds the in-memory front cache.
func NewRewriteCache(rewriter *Rewriter, logger *zap.Logger, store Storage, frontMB int) (*RewriteCache, error) {
	maxCost := int64(max(frontMB, 1)) << 20
	front, err := ristretto.NewCache(&ristretto.Config[string, CacheEntry]{
		NumCounters: max(maxCost/1024, 1000), // assume ~10KB average entries, counters at 10x items
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create front cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RewriteCache{
		rewriter: rewriter,
		logger:   logger,
		store:    KeyPrefixStorage(store, cacheKeyPrefix),
		front:    front,
	}, nil
}

// Rewrite returns the cached result for src, or rewrites and caches it. The returned bool is true on a cache hit.
func (c *RewriteCache) Rewrite(src []byte, opts RewriteOptions) (Result, bool, error) {
	tmpl := c.rewriter.Template()
	version := tmpl.Version
	key := rewriteCacheKey(tmpl, src, opts)

	if entry, ok := c.front.Get(key); ok {
		return c.hit(entry, src, opts), true, nil
	}
	if blob, ok, err := c.store.Get(key); err != nil {
		return Result{}, false, fmt.Errorf("load cache entry: %w", err)
	} else if ok {
		if entry, err := decodeCacheEntry(blob); err != nil {
			c.logger.Warn("discarding unreadable cache entry", zap.String("path", opts.Path), zap.Error(err))
		} else if entry.TemplateVersion == version {
			c.front.Set(key, entry, entry.cost())
			return c.hit(entry, src, opts), true, nil
		}
	}

	c.misses.Add(1)
	result, err := c.rewriter.Rewrite(src, opts)
	if err != nil {
		return Result{}, false, err
	}
	entry := newCacheEntry(version, result)
	blob, err := encodeCacheEntry(entry)
	if err != nil {
		return Result{}, false, fmt.Errorf("encode cache entry: %w", err)
	} else if err := c.store.Put(key, blob); err != nil {
		return Result{}, false, fmt.Errorf("store cache entry: %w", err)
	}
	c.front.Set(key, entry, entry.cost())
	return result, false, nil
}

func (c *RewriteCache) hit(entry CacheEntry, src []byte, opts RewriteOptions) Result {
	c.hits.Add(1)
	if entry.Status == StatusParseFailed {
		c.logger.Warn("unable to wrap data fetchers, module failed to parse",
			zap.String("path", opts.Path), zap.String("error", entry.Diagnostic), zap.Bool("cached", true))
	}
	return entry.Result(src)
}

// Stats returns the hit and miss counts since the cache was created.
func (c *RewriteCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear drops every cached rewrite.
func (c *RewriteCache) Clear() error {
	c.front.Clear()
	return c.store.Clear()
}

// Close releases the front cache. The underlying Storage is owned by the caller.
func (c *RewriteCache) Close() {
	c.front.Close()
}

// rewriteCacheKey digests everything a rewrite depends on. The template source is included as edited templates
// often keep their version, and the path as it appears in diagnostics.
func rewriteCacheKey(tmpl *Template, src []byte, opts RewriteOptions) string {
	h := sha1.New()
	for _, part := range []string{tmpl.Version, opts.Dialect.String(), opts.Route, opts.Path} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(tmpl.Source)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(src)
	return base91.StdEncoding.EncodeToString(h.Sum(nil))
}

func (e CacheEntry) cost() int64 {
	cost := int64(len(e.Output)+len(e.Diagnostic)) + 64
	for k, v := range e.Aliases {
		cost += int64(len(k) + len(v))
	}
	return cost
}

func encodeCacheEntry(entry CacheEntry) ([]byte, error) {
	b, err := entry.MarshalMsgpack()
	if err != nil {
		return nil, err
	}
	return compressBlob(b), nil
}

func decodeCacheEntry(blob []byte) (CacheEntry, error) {
	b, err := decompressBlob(blob)
	if err != nil {
		return CacheEntry{}, err
	}
	var entry CacheEntry
	if err := entry.UnmarshalMsgpack(b); err != nil {
		return CacheEntry{}, err
	}
	return entry, nil
}
