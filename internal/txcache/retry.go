package txcache

import (
	"context"
	"log/slog"

	"divvy/internal/core"
	"divvy/internal/log"
)

// WriteWithRetry wraps Write with quota recovery: on quota pressure it
// force-deletes twice the normal eviction batch of oldest-cached
// records, ignoring the ceiling check, and re-issues the identical
// write exactly once.
//
// The returned result always carries QuotaExceeded=true after a quota
// hit, even when the retry fully succeeded on disk, so the caller
// knows degradation occurred and can surface a soft warning. A failing
// retry is likewise reported as data, never as an error.
func (c *Cache) WriteWithRetry(ctx context.Context, groupID string, txs []core.Transaction) (WriteResult, error) {
	res, err := c.Write(ctx, groupID, txs)
	if err != nil || !res.QuotaExceeded {
		return res, err
	}

	cleanup := 2 * c.opts.EvictBatch
	slog.WarnContext(ctx, "Storage quota hit, forcing cleanup before retry",
		log.FieldGroupID, groupID,
		log.FieldCount, cleanup,
		log.FieldWritten, res.Written)

	if deleted, cerr := c.deleteOldest(ctx, cleanup); cerr != nil {
		slog.WarnContext(ctx, "Forced cleanup failed", log.FieldError, cerr)
	} else {
		slog.InfoContext(ctx, "Forced cleanup removed oldest cached transactions",
			log.FieldEvicted, deleted)
	}

	retry, rerr := c.Write(ctx, groupID, txs)
	if rerr != nil {
		slog.WarnContext(ctx, "Retry after quota cleanup failed",
			log.FieldGroupID, groupID,
			log.FieldError, rerr)
		return WriteResult{Written: 0, QuotaExceeded: true}, nil
	}

	retry.QuotaExceeded = true
	return retry, nil
}
