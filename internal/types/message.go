package types

import "time"

// =============================================================================
// MESSAGES
// =============================================================================

// MessageType identifies the kind of a control-plane message.
type MessageType string

const (
	MsgTaskAssignment     MessageType = "task_assignment"
	MsgTaskResult         MessageType = "task_result"
	MsgTaskFailed         MessageType = "task_failed"
	MsgDataShare          MessageType = "data_share"
	MsgCollaborationStart MessageType = "collaboration_start"
	MsgCollaborationEnd   MessageType = "collaboration_end"
	MsgDependencyResolved MessageType = "dependency_resolved"
	MsgHeartbeat          MessageType = "heartbeat"
	MsgStatusUpdate       MessageType = "status_update"
)

// BroadcastID is the reserved receiver ID that fans a message out to every
// registered worker except the sender.
const BroadcastID = "broadcast"

// Message is the unit of communication on the bus. Messages are removed from
// their queue on receive; there is no persistence.
type Message struct {
	ID         string                 `json:"id"`
	SenderID   string                 `json:"sender_id"`
	ReceiverID string                 `json:"receiver_id"`
	Type       MessageType            `json:"type"`
	Content    map[string]interface{} `json:"content"`
	Priority   int                    `json:"priority"` // higher first
	Timestamp  time.Time              `json:"timestamp"`
	Processed  bool                   `json:"processed"`
}

// ResponseRequired reports whether the message type expects a reply from the
// receiver.
func (m *Message) ResponseRequired() bool {
	switch m.Type {
	case MsgTaskAssignment, MsgCollaborationStart:
		return true
	default:
		return false
	}
}
