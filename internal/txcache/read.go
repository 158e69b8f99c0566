package txcache

import (
	"context"
	"fmt"
	"math"
	"time"

	"divvy/internal/core"
)

// DateRange bounds a read to business dates in [Start, End]. A zero
// End means open-ended.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r *DateRange) bounds() (int64, int64) {
	if r == nil {
		return 0, math.MaxInt64
	}
	start := int64(0)
	if !r.Start.IsZero() {
		start = r.Start.UnixMilli()
	}
	end := int64(math.MaxInt64)
	if !r.End.IsZero() {
		end = r.End.UnixMilli()
	}
	return start, end
}

const readSQL = `
SELECT tx_id, group_id, owner_id, date_ts, payload
FROM cached_transactions
WHERE group_id = ? AND date_ts BETWEEN ? AND ?
ORDER BY date_ts DESC`

// Read returns every cached transaction for the group within the date
// range, newest business date first. The compound (group_id, date_ts)
// index serves both the filter and the ordering. The full matched set
// is returned; callers needing paging apply it on top.
func (c *Cache) Read(ctx context.Context, groupID string, r *DateRange) ([]core.Transaction, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	start, end := r.bounds()
	rows, err := c.db.QueryContext(ctx, readSQL, groupID, start, end)
	if err != nil {
		return nil, fmt.Errorf("read group cache: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			txID, gID, ownerID string
			dateTS             int64
			payload            []byte
		)
		if err := rows.Scan(&txID, &gID, &ownerID, &dateTS, &payload); err != nil {
			return nil, fmt.Errorf("scan cached transaction: %w", err)
		}
		out = append(out, decodeRow(txID, gID, ownerID, dateTS, payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached transactions: %w", err)
	}
	return out, nil
}

// Count returns the total number of cached transactions across all
// groups. Both the eviction threshold check and diagnostics use it.
func (c *Cache) Count(ctx context.Context) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cached_transactions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cached transactions: %w", err)
	}
	return n, nil
}
