// Package cache keeps answered questions in a bounded, expiring LRU that is
// mirrored to a persistent store.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/ports"
)

const (
	defaultMaxEntries = 500
	defaultTTL        = 24 * time.Hour
	keyLength         = 16
)

type Options struct {
	MaxEntries int
	TTL        time.Duration
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = defaultMaxEntries
	}
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type item struct {
	key   string
	entry domain.CacheEntry
}

// QueryCache is safe for concurrent use. The front of the list is the most
// recently used entry.
type QueryCache struct {
	store  ports.CacheStore
	logger *slog.Logger
	opts   Options

	// writeMu is held across a memory mutation and its store call so the
	// store sees writes in the same order as memory. Lock order: writeMu, mu.
	writeMu sync.Mutex

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

// New builds a cache and warms it from store. A nil store keeps the cache
// in memory only. Load failures leave the cache empty.
func New(ctx context.Context, store ports.CacheStore, logger *slog.Logger, opts Options) *QueryCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &QueryCache{
		store:  store,
		logger: logger,
		opts:   opts.withDefaults(),
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}
	c.load(ctx)
	return c
}

// Key is the first 16 hex characters of sha256("query|book") over the
// trimmed, lower-cased inputs.
func Key(query, bookFilter string) string {
	raw := strings.ToLower(strings.TrimSpace(query)) + "|" + strings.ToLower(strings.TrimSpace(bookFilter))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:keyLength]
}

func (c *QueryCache) Get(ctx context.Context, query, bookFilter string) (domain.CacheEntry, bool) {
	key := Key(query, bookFilter)

	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return domain.CacheEntry{}, false
	}
	it := elem.Value.(*item)
	if c.expired(it.entry) {
		c.mu.Unlock()
		c.dropExpired(ctx, key)
		return domain.CacheEntry{}, false
	}
	c.order.MoveToFront(elem)
	entry := it.entry
	c.mu.Unlock()

	c.logger.Debug("cache_hit", "key", key)
	return entry, true
}

func (c *QueryCache) Set(ctx context.Context, query, bookFilter, response string, sources []domain.Source) {
	key := Key(query, bookFilter)
	entry := domain.CacheEntry{
		Query:      query,
		BookFilter: bookFilter,
		Response:   response,
		Sources:    append([]domain.Source(nil), sources...),
		Timestamp:  c.opts.Now().UTC(),
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*item).entry = entry
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&item{key: key, entry: entry})
	}
	evicted := c.evictOverflow()
	c.mu.Unlock()

	c.persistPut(ctx, key, entry)
	for _, k := range evicted {
		c.persistDelete(ctx, k)
	}
}

// Clear drops every entry. Memory is always cleared; the returned error
// reports a store failure only.
func (c *QueryCache) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("cache_clear_persist_failed", "error", err)
		return domain.WrapError(domain.ErrUnavailable, "clear cache store", err)
	}
	c.logger.Info("cache_cleared")
	return nil
}

func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// dropExpired removes key if it is still expired once the write lock is
// held; a concurrent Set may have refreshed it in the meantime.
func (c *QueryCache) dropExpired(ctx context.Context, key string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok || !c.expired(elem.Value.(*item).entry) {
		c.mu.Unlock()
		return
	}
	c.removeElement(elem)
	c.mu.Unlock()

	c.persistDelete(ctx, key)
}

func (c *QueryCache) load(ctx context.Context) {
	if c.store == nil {
		return
	}
	entries, err := c.store.LoadAll(ctx)
	if err != nil {
		c.logger.Warn("cache_load_failed", "error", err)
		return
	}

	loaded := make([]item, 0, len(entries))
	stale := make([]string, 0)
	for key, entry := range entries {
		if c.expired(entry) {
			stale = append(stale, key)
			continue
		}
		loaded = append(loaded, item{key: key, entry: entry})
	}
	// Oldest first so the newest ends up at the front.
	sort.SliceStable(loaded, func(i, j int) bool {
		if loaded[i].entry.Timestamp.Equal(loaded[j].entry.Timestamp) {
			return loaded[i].key < loaded[j].key
		}
		return loaded[i].entry.Timestamp.Before(loaded[j].entry.Timestamp)
	})

	c.mu.Lock()
	for i := range loaded {
		it := loaded[i]
		c.items[it.key] = c.order.PushFront(&it)
	}
	stale = append(stale, c.evictOverflow()...)
	size := c.order.Len()
	c.mu.Unlock()

	for _, key := range stale {
		c.persistDelete(ctx, key)
	}
	c.logger.Info("cache_loaded", "entries", size, "dropped", len(stale))
}

func (c *QueryCache) expired(entry domain.CacheEntry) bool {
	return c.opts.Now().Sub(entry.Timestamp) >= c.opts.TTL
}

// evictOverflow must be called with mu held.
func (c *QueryCache) evictOverflow() []string {
	var evicted []string
	for c.order.Len() > c.opts.MaxEntries {
		oldest := c.order.Back()
		evicted = append(evicted, oldest.Value.(*item).key)
		c.removeElement(oldest)
	}
	return evicted
}

// removeElement must be called with mu held.
func (c *QueryCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*item).key)
}

func (c *QueryCache) persistPut(ctx context.Context, key string, entry domain.CacheEntry) {
	if c.store == nil {
		return
	}
	if err := c.store.Put(ctx, key, entry); err != nil {
		c.logger.Warn("cache_persist_failed", "key", key, "error", err)
	}
}

func (c *QueryCache) persistDelete(ctx context.Context, key string) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache_delete_failed", "key", key, "error", err)
	}
}
