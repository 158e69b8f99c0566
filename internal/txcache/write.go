package txcache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"divvy/internal/core"
	"divvy/internal/log"
)

// WriteResult is the structured outcome of a write. Quota pressure is
// reported here instead of as an error: a degraded cache is a warning
// for the caller, not a failure of their action.
type WriteResult struct {
	// Written is how many records were durably applied.
	Written int
	// QuotaExceeded is set when the storage engine refused further
	// writes. Written then reflects the partial progress that still
	// committed.
	QuotaExceeded bool
}

const upsertSQL = `
INSERT INTO cached_transactions (cache_key, tx_id, group_id, owner_id, date_ts, cached_at, payload)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET
    owner_id  = excluded.owner_id,
    date_ts   = excluded.date_ts,
    cached_at = excluded.cached_at,
    payload   = excluded.payload`

// execer is satisfied by both *sql.Tx and *sql.DB, so the same upsert
// runs inside the batch transaction and in autocommit salvage mode.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Write upserts a batch of transactions for a group. Records with
// empty ids are skipped. Every record in the batch shares the same
// cached_at timestamp so eviction treats the batch as one unit of
// recency. The clean path runs in one SQL transaction; non-quota
// errors roll it back and are returned.
//
// A quota condition never surfaces as an error and does not discard
// the batch. When the engine reports quota mid-batch it also rolls the
// enclosing transaction back, so the batch is salvaged one autocommit
// statement at a time until quota hits again; whatever landed is
// durable and reported in the result. Losing a good sync opportunity
// entirely is worse than keeping partial progress, even though it
// breaks strict batch atomicity.
func (c *Cache) Write(ctx context.Context, groupID string, txs []core.Transaction) (WriteResult, error) {
	var res WriteResult
	if err := c.ready(); err != nil {
		return res, err
	}

	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		if IsQuotaErr(err) {
			res.QuotaExceeded = true
			return res, nil
		}
		return res, fmt.Errorf("begin cache write: %w", err)
	}

	cachedAt := c.now().UnixMilli()
	applied := 0
	quotaHit := false

	for _, t := range txs {
		if strings.TrimSpace(t.ID) == "" {
			continue
		}
		if err := c.upsertRow(ctx, sqlTx, groupID, t, cachedAt); err != nil {
			if IsQuotaErr(err) {
				quotaHit = true
				break
			}
			sqlTx.Rollback()
			return res, fmt.Errorf("upsert transaction %s: %w", t.ID, err)
		}
		applied++
	}

	if err := sqlTx.Commit(); err != nil {
		// A real engine quota error aborts the whole transaction, so
		// this commit fails too ("no transaction is active"). Nothing
		// is on disk at this point; salvage the batch row by row.
		if quotaHit || IsQuotaErr(err) {
			res.Written = c.salvage(ctx, groupID, txs, cachedAt)
			res.QuotaExceeded = true
			return res, nil
		}
		return res, fmt.Errorf("commit cache write: %w", err)
	}

	res.Written = applied
	res.QuotaExceeded = quotaHit

	if quotaHit {
		slog.WarnContext(ctx, "Cache write hit storage quota",
			log.FieldGroupID, groupID,
			log.FieldWritten, applied,
			log.FieldCount, len(txs))
		return res, nil
	}

	// Capacity enforcement after every clean write. Eviction failures
	// are logged, never surfaced: the caller's write already succeeded.
	if evicted, err := c.evict(ctx); err != nil {
		slog.WarnContext(ctx, "Post-write eviction failed", log.FieldError, err)
	} else if evicted > 0 {
		slog.InfoContext(ctx, "Evicted oldest cached transactions",
			log.FieldEvicted, evicted,
			log.FieldGroupID, groupID)
	}

	return res, nil
}

func (c *Cache) upsertRow(ctx context.Context, ex execer, groupID string, t core.Transaction, cachedAt int64) error {
	if c.hookBeforeUpsert != nil {
		if err := c.hookBeforeUpsert(groupID, t.ID); err != nil {
			return err
		}
	}
	payload, err := encodePayload(t)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, upsertSQL,
		core.CacheKey(groupID, t.ID), t.ID, groupID, t.OwnerID,
		t.DateMillis(), cachedAt, payload)
	return err
}

// salvage re-applies a batch one autocommit statement at a time after
// the batch transaction was lost to a quota rollback. Each statement
// that lands is durable on its own; the first failing one stops the
// pass. Upserts are idempotent, so replaying from the start is safe.
func (c *Cache) salvage(ctx context.Context, groupID string, txs []core.Transaction, cachedAt int64) int {
	applied := 0
	for _, t := range txs {
		if strings.TrimSpace(t.ID) == "" {
			continue
		}
		if err := c.upsertRow(ctx, c.db, groupID, t, cachedAt); err != nil {
			if !IsQuotaErr(err) {
				slog.WarnContext(ctx, "Salvage write failed",
					log.FieldTxID, t.ID,
					log.FieldError, err)
			}
			break
		}
		applied++
	}
	slog.WarnContext(ctx, "Cache write hit storage quota, salvaged partial batch",
		log.FieldGroupID, groupID,
		log.FieldWritten, applied,
		log.FieldCount, len(txs))
	return applied
}

// Remove deletes specific transactions for a group, propagating
// soft-deletes reported by the remote source.
func (c *Cache) Remove(ctx context.Context, groupID string, txIDs []string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(txIDs) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(txIDs))
	args := make([]any, 0, len(txIDs))
	for _, id := range txIDs {
		placeholders = append(placeholders, "?")
		args = append(args, core.CacheKey(groupID, id))
	}

	q := "DELETE FROM cached_transactions WHERE cache_key IN (" + strings.Join(placeholders, ", ") + ")"
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("remove cached transactions: %w", err)
	}
	return nil
}

// ClearGroup deletes every cached transaction belonging to a group.
// Used together with DeleteSyncState when a group's local state must be
// fully discarded, e.g. a membership change invalidates what this
// device is allowed to see.
func (c *Cache) ClearGroup(ctx context.Context, groupID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM cached_transactions WHERE group_id = ?", groupID); err != nil {
		return fmt.Errorf("clear group cache: %w", err)
	}
	return nil
}
