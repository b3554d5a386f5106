// Package geocache memoizes reverse geocode lookups for one pipeline run, keyed on
// coordinates rounded to five decimal places.
package geocache

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// precision is the number of decimal places kept in a cache key.
const precision = 5

// LookupFunc reverse geocodes a coordinate. It returns an empty address with a nil error
// when the service answered but knows no address there.
type LookupFunc func(ctx context.Context, lat, lon float64) (string, error)

// Entry is the memoized outcome of one lookup.
type Entry struct {
	Address string `json:"address,omitempty"`
	Failure string `json:"failure,omitempty"`
}

// Found reports whether the lookup produced an address.
func (e Entry) Found() bool { return e.Failure == "" && e.Address != "" }

// Failed reports whether the lookup faulted.
func (e Entry) Failed() bool { return e.Failure != "" }

// Stats contains cache performance statistics.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Calls   int64 `json:"calls"`
}

// Cache is a concurrent-safe, run-scoped reverse geocode cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
	calls   atomic.Int64
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Key builds the cache key for a coordinate: "lat,lon" rounded to five decimals.
func Key(lat, lon float64) string {
	return round(lat) + "," + round(lon)
}

func round(v float64) string {
	scale := math.Pow(10, precision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		// Fold -0 into 0 so both signs share a bucket.
		r = 0
	}
	return strconv.FormatFloat(r, 'f', precision, 64)
}

// Lookup returns the cached entry for the coordinate's bucket, calling fn on a miss.
// Concurrent misses on the same bucket share a single call. Failures are cached like
// successes so a faulting bucket is not retried within the run.
func (c *Cache) Lookup(ctx context.Context, lat, lon float64, fn LookupFunc) Entry {
	key := Key(lat, lon)

	if e, ok := c.get(key); ok {
		c.hits.Add(1)
		zap.L().Debug("geocache: hit", zap.String("key", key))
		return e
	}
	c.misses.Add(1)

	v, _, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have stored the entry between our miss and Do.
		if e, ok := c.get(key); ok {
			return e, nil
		}

		c.calls.Add(1)
		addr, err := fn(ctx, lat, lon)
		e := Entry{Address: addr}
		if err != nil {
			e = Entry{Failure: err.Error()}
		}

		// A cancelled run must not poison the bucket for the next one.
		if ctx.Err() == nil {
			c.mu.Lock()
			c.entries[key] = e
			c.mu.Unlock()
		}
		return e, nil
	})
	return v.(Entry)
}

func (c *Cache) get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Len returns the number of cached buckets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Calls:   c.calls.Load(),
	}
}
