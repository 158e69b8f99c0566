// Package syncer pulls transaction deltas from the remote source of
// truth into the local cache and maintains per-group sync cursors. It
// reacts to AMQP notifications and additionally re-syncs its groups on
// a timer to recover from missed messages.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"divvy/internal/amqp"
	"divvy/internal/core"
	"divvy/internal/log"
	"divvy/internal/query"
	"divvy/internal/remote"
	"divvy/internal/txcache"
)

// Config holds configuration for the syncer
type Config struct {
	// PollInterval is how often every known group is re-synced
	// regardless of notifications (default: 30s)
	PollInterval time.Duration

	// Groups is the set of group ids this device participates in.
	Groups []string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		Now:          time.Now,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Syncer orchestrates remote → cache synchronization.
type Syncer struct {
	cache   *txcache.Cache
	source  remote.Source
	queries *query.Layer // optional; invalidated after writes
	config  Config

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a syncer. queries may be nil when no read layer sits
// above the cache.
func New(cache *txcache.Cache, source remote.Source, queries *query.Layer, config Config) *Syncer {
	return &Syncer{
		cache:   cache,
		source:  source,
		queries: queries,
		config:  config.withDefaults(),
	}
}

// HandleSyncMessage processes one AMQP notification. Returning an
// error requeues the message.
func (s *Syncer) HandleSyncMessage(ctx context.Context, msg *amqp.GroupSyncMessage) error {
	return s.SyncGroup(ctx, msg.GroupID, msg.MemberID)
}

// SyncGroup fetches everything newer than the group's cursor from the
// remote source, writes it into the cache, propagates removals, and
// advances the cursor. A quota-degraded write still advances the
// cursor: whatever was dropped will come back on a later full
// re-fetch, and blocking sync on a full cache helps nobody.
func (s *Syncer) SyncGroup(ctx context.Context, groupID, memberID string) error {
	state, err := s.cache.GetSyncState(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	var since time.Time
	if state != nil && state.LastSyncTS > 0 {
		since = time.UnixMilli(state.LastSyncTS)
	}

	txs, err := s.source.FetchSince(ctx, groupID, since)
	if err != nil {
		return fmt.Errorf("fetch remote transactions: %w", err)
	}
	removed, err := s.source.RemovedSince(ctx, groupID, since)
	if err != nil {
		return fmt.Errorf("fetch remote removals: %w", err)
	}

	if len(txs) > 0 {
		res, err := s.cache.WriteWithRetry(ctx, groupID, txs)
		if err != nil {
			return fmt.Errorf("write cache: %w", err)
		}
		if res.QuotaExceeded {
			slog.WarnContext(ctx, "Cache degraded during sync, some data may re-sync later",
				log.FieldGroupID, groupID,
				log.FieldWritten, res.Written,
				log.FieldCount, len(txs))
		}
	}

	if len(removed) > 0 {
		if err := s.cache.Remove(ctx, groupID, removed); err != nil {
			return fmt.Errorf("propagate removals: %w", err)
		}
	}

	now := s.config.Now().UnixMilli()
	next := groupState(state, groupID).Touch(memberID, now)
	if err := s.cache.PutSyncState(ctx, next); err != nil {
		return fmt.Errorf("store sync state: %w", err)
	}

	if s.queries != nil && (len(txs) > 0 || len(removed) > 0) {
		s.queries.Invalidate(groupID)
	}

	slog.InfoContext(ctx, "Group synchronized",
		log.FieldGroupID, groupID,
		log.FieldCount, len(txs),
		"removed", len(removed),
		log.FieldSyncTS, now)
	return nil
}

// DropGroup discards a group's entire local state: cached
// transactions plus sync bookkeeping. Used when membership changes
// invalidate what this device may see.
func (s *Syncer) DropGroup(ctx context.Context, groupID string) error {
	if err := s.cache.ClearGroup(ctx, groupID); err != nil {
		return fmt.Errorf("clear group cache: %w", err)
	}
	if err := s.cache.DeleteSyncState(ctx, groupID); err != nil {
		return fmt.Errorf("delete sync state: %w", err)
	}
	if s.queries != nil {
		s.queries.Invalidate(groupID)
	}
	slog.InfoContext(ctx, "Dropped local group state", log.FieldGroupID, groupID)
	return nil
}

// Start begins the periodic re-sync loop. Returns an error if already
// running.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("syncer is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Syncer started",
		"poll_interval", s.config.PollInterval,
		"groups", len(s.config.Groups))
	return nil
}

// Stop gracefully stops the loop and waits for completion. Safe to
// call concurrently; only the first caller closes the stop channel.
func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	select {
	case <-s.doneCh:
		slog.InfoContext(ctx, "Syncer stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Syncer stop timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Syncer) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.syncAll(ctx)
		}
	}
}

func (s *Syncer) syncAll(ctx context.Context) {
	for _, groupID := range s.config.Groups {
		if err := s.SyncGroup(ctx, groupID, ""); err != nil {
			slog.ErrorContext(ctx, "Periodic sync failed",
				log.FieldGroupID, groupID,
				log.FieldError, err)
		}
	}
}

func groupState(state *core.GroupSyncState, groupID string) core.GroupSyncState {
	if state != nil {
		return *state
	}
	return core.GroupSyncState{GroupID: groupID}
}
