package txcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"divvy/internal/core"
)

// GetSyncState returns the sync bookkeeping for a group, or (nil, nil)
// when none has been recorded yet.
func (c *Cache) GetSyncState(ctx context.Context, groupID string) (*core.GroupSyncState, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var (
		lastSync   int64
		memberJSON []byte
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT last_sync_ts, member_sync FROM group_sync_state WHERE group_id = ?", groupID).
		Scan(&lastSync, &memberJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	state := &core.GroupSyncState{
		GroupID:      groupID,
		LastSyncTS:   lastSync,
		MemberSyncTS: map[string]int64{},
	}
	if len(memberJSON) > 0 {
		if err := json.Unmarshal(memberJSON, &state.MemberSyncTS); err != nil {
			return nil, fmt.Errorf("decode member cursors: %w", err)
		}
	}
	return state, nil
}

// PutSyncState upserts a group's sync bookkeeping. Timestamps are
// stored as given; monotonicity is the sync orchestrator's concern.
func (c *Cache) PutSyncState(ctx context.Context, state core.GroupSyncState) error {
	if err := c.ready(); err != nil {
		return err
	}
	if state.GroupID == "" {
		return core.ErrEmptyGroupID
	}

	members := state.MemberSyncTS
	if members == nil {
		members = map[string]int64{}
	}
	memberJSON, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("encode member cursors: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
INSERT INTO group_sync_state (group_id, last_sync_ts, member_sync)
VALUES (?, ?, ?)
ON CONFLICT(group_id) DO UPDATE SET
    last_sync_ts = excluded.last_sync_ts,
    member_sync  = excluded.member_sync`,
		state.GroupID, state.LastSyncTS, memberJSON)
	if err != nil {
		return fmt.Errorf("put sync state: %w", err)
	}
	return nil
}

// DeleteSyncState removes a group's sync bookkeeping. Deleting a
// missing group is not an error.
func (c *Cache) DeleteSyncState(ctx context.Context, groupID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM group_sync_state WHERE group_id = ?", groupID); err != nil {
		return fmt.Errorf("delete sync state: %w", err)
	}
	return nil
}
