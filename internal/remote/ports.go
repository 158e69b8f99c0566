// Package remote defines the ports to the remote source of truth. The
// cache never talks to the remote itself; the sync orchestrator pulls
// deltas through these interfaces and pushes them into the cache.
package remote

import (
	"context"
	"time"

	"divvy/internal/core"
)

type (
	// TransactionSource supplies transaction deltas for a group. The
	// remote is authoritative: payloads are trusted as-is beyond the
	// non-empty id requirement.
	TransactionSource interface {
		// FetchSince returns transactions created or modified after
		// since. A zero since means everything.
		FetchSince(ctx context.Context, groupID string, since time.Time) ([]core.Transaction, error)
	}

	// RemovalSource reports transactions the remote has soft-deleted,
	// so local copies can be dropped.
	RemovalSource interface {
		// RemovedSince returns the ids of transactions removed after
		// since.
		RemovedSince(ctx context.Context, groupID string, since time.Time) ([]string, error)
	}

	// Source is the combined surface the sync orchestrator needs.
	Source interface {
		TransactionSource
		RemovalSource
	}
)
