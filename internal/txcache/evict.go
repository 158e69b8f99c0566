package txcache

import (
	"context"
	"fmt"
)

const evictSQL = `
DELETE FROM cached_transactions
WHERE cache_key IN (
    SELECT cache_key FROM cached_transactions
    ORDER BY cached_at ASC
    LIMIT ?
)`

// evict enforces the global record ceiling. A no-op while the total is
// at or under MaxRecords; otherwise it deletes one EvictBatch of the
// oldest-cached records (by cached_at, not business date). Eviction is
// global across groups: a busy group can crowd out a quiet one, which
// is the accepted price of a single simple ceiling.
func (c *Cache) evict(ctx context.Context) (int, error) {
	total, err := c.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("eviction count: %w", err)
	}
	if total <= c.opts.MaxRecords {
		return 0, nil
	}
	return c.deleteOldest(ctx, c.opts.EvictBatch)
}

// deleteOldest unconditionally removes up to n of the oldest-cached
// records. Quota recovery calls it directly, bypassing the ceiling
// check.
func (c *Cache) deleteOldest(ctx context.Context, n int) (int, error) {
	res, err := c.db.ExecContext(ctx, evictSQL, n)
	if err != nil {
		return 0, fmt.Errorf("delete oldest cached: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("eviction rows affected: %w", err)
	}
	return int(deleted), nil
}
