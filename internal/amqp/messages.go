package amqp

import (
	"encoding/json"
	"time"
)

// GroupSyncMessage tells the sync daemon that a group has new remote
// activity. It carries only identifiers; the daemon fetches the actual
// deltas from the remote source using its stored cursors.
type GroupSyncMessage struct {
	GroupID   string    `json:"group_id"`
	MemberID  string    `json:"member_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewGroupSyncMessage creates a sync notification for a group. The
// member id identifies who caused the change and may be empty.
func NewGroupSyncMessage(groupID, memberID string) *GroupSyncMessage {
	return &GroupSyncMessage{
		GroupID:   groupID,
		MemberID:  memberID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *GroupSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// GroupSyncMessageFromJSON creates a message from JSON bytes
func GroupSyncMessageFromJSON(data []byte) (*GroupSyncMessage, error) {
	var msg GroupSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
