package core

import (
	"errors"
	"strings"
	"time"
)

type (
	// Transaction is a shared-group expense as delivered by the remote
	// source of truth. The cache stores it verbatim (Raw) alongside the
	// extracted columns it indexes on.
	Transaction struct {
		ID          string
		GroupID     string
		OwnerID     string
		Description string
		Amount      Money
		Date        time.Time
		// Raw is the payload exactly as received from the remote source.
		// Empty when the transaction was built locally (tests, CLI).
		Raw []byte
	}

	// GroupSyncState records how current a group's local cache is
	// relative to the remote source.
	GroupSyncState struct {
		GroupID      string
		LastSyncTS   int64            // ms since epoch
		MemberSyncTS map[string]int64 // member id -> last-known cursor, ms
	}
)

var (
	ErrEmptyTransactionID = errors.New("empty transaction id")
	ErrEmptyGroupID       = errors.New("empty group id")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// CacheKey returns the composite primary key for a cached transaction.
// Concatenating group and transaction ids makes the key globally unique
// even though transaction ids are only unique within their group.
func CacheKey(groupID, txID string) string {
	return groupID + "_" + txID
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyTransactionID
	}
	if strings.TrimSpace(t.GroupID) == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// DateMillis normalizes the business date to milliseconds since epoch.
// Unset or pre-epoch dates collapse to 0, a lossy but accepted fallback:
// such records sort to the end of any descending date query instead of
// failing the write.
func (t Transaction) DateMillis() int64 {
	if t.Date.IsZero() {
		return 0
	}
	ms := t.Date.UnixMilli()
	if ms < 0 {
		return 0
	}
	return ms
}

// Touch returns a copy of the state with the group cursor and the given
// member cursor advanced to ts. No monotonicity is enforced here; the
// sync orchestrator owns that policy.
func (s GroupSyncState) Touch(memberID string, ts int64) GroupSyncState {
	out := GroupSyncState{
		GroupID:      s.GroupID,
		LastSyncTS:   ts,
		MemberSyncTS: make(map[string]int64, len(s.MemberSyncTS)+1),
	}
	for k, v := range s.MemberSyncTS {
		out.MemberSyncTS[k] = v
	}
	if memberID != "" {
		out.MemberSyncTS[memberID] = ts
	}
	return out
}
