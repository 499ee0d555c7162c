package delivery

import "time"

// 事件類型常數
const (
	EventMessageCreated  = "message.created"
	EventMessageUpdated  = "message.updated"
	EventMessageDeleted  = "message.deleted"
	EventMessageRead     = "message.read"
	EventMessageReceived = "message.delivered"
	EventReactionUpdated = "reaction.updated"
	EventTypingChanged   = "typing.changed"
	EventThreadUpdated   = "thread.updated"
)

// Event 推送給訂閱者的即時事件
type Event struct {
	Type      string      `json:"type"`
	ThreadID  string      `json:"thread_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent 創建事件
func NewEvent(eventType, threadID string, payload interface{}) *Event {
	return &Event{
		Type:      eventType,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
