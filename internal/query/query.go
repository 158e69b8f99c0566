// Package query is the in-memory read layer that sits above the
// persistent cache. It collapses concurrent identical reads into one
// storage hit and memoizes recent results with a short TTL, which is
// enough to absorb the bursts a UI produces when several views render
// the same group at once.
package query

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"divvy/internal/core"
	"divvy/internal/txcache"
)

const (
	defaultMaxEntries = 128
	defaultTTL        = 30 * time.Second
)

// Layer wraps a cache handle with request deduplication and result
// memoization.
type Layer struct {
	cache   *txcache.Cache
	flight  singleflight.Group
	results *lruCache[[]core.Transaction]
}

// New builds a Layer over an open cache handle. maxEntries and ttl
// fall back to defaults when non-positive.
func New(cache *txcache.Cache, maxEntries int, ttl time.Duration) *Layer {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Layer{
		cache:   cache,
		results: newLRU[[]core.Transaction](maxEntries, ttl),
	}
}

// Transactions returns the cached transactions for a group in the
// given range, newest first. Identical concurrent calls share one
// underlying read.
func (l *Layer) Transactions(ctx context.Context, groupID string, r *txcache.DateRange) ([]core.Transaction, error) {
	key := readKey(groupID, r)
	if hit, ok := l.results.Get(key); ok {
		return hit, nil
	}

	v, err, _ := l.flight.Do(key, func() (any, error) {
		txs, err := l.cache.Read(ctx, groupID, r)
		if err != nil {
			return nil, err
		}
		l.results.Set(key, txs)
		return txs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]core.Transaction), nil
}

// Invalidate drops every memoized read for a group. Call after any
// write, removal or clear touching the group.
func (l *Layer) Invalidate(groupID string) {
	l.results.DeletePrefix(groupID + "|")
}

func readKey(groupID string, r *txcache.DateRange) string {
	if r == nil {
		return groupID + "|all"
	}
	var start, end int64
	if !r.Start.IsZero() {
		start = r.Start.UnixMilli()
	}
	if !r.End.IsZero() {
		end = r.End.UnixMilli()
	}
	return groupID + "|" + strconv.FormatInt(start, 10) + ":" + strconv.FormatInt(end, 10)
}
