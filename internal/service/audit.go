package service

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// AuditService 聊天事件審計服務
type AuditService struct {
	enabled bool
	logger  *log.Logger
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{
		enabled: enabled,
		logger:  log.Default(),
	}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id"`
	ThreadID  string                 `json:"thread_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result"` // success, failure
	Details   map[string]interface{} `json:"details,omitempty"`
}

// LogThreadCreation 記錄對話串創建
func (a *AuditService) LogThreadCreation(ctx context.Context, userID, threadID, kind string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "thread_creation",
		UserID:    userID,
		ThreadID:  threadID,
		Action:    "create_thread",
		Result:    "success",
		Details: map[string]interface{}{
			"thread_kind": kind,
		},
	})
}

// LogMessageSent 記錄訊息發送
func (a *AuditService) LogMessageSent(ctx context.Context, userID, threadID, messageID, messageType string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "message_sent",
		UserID:    userID,
		ThreadID:  threadID,
		MessageID: messageID,
		Action:    "send_message",
		Result:    "success",
		Details: map[string]interface{}{
			"message_type": messageType,
		},
	})
}

// LogReceipt 記錄送達/已讀回執
func (a *AuditService) LogReceipt(ctx context.Context, userID, threadID, messageID, kind string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "receipt_recorded",
		UserID:    userID,
		ThreadID:  threadID,
		MessageID: messageID,
		Action:    "mark_" + kind,
		Result:    "success",
	})
}

// LogMembershipChange 記錄參與者變更
func (a *AuditService) LogMembershipChange(ctx context.Context, actorID, threadID, targetID, action string) {
	if !a.enabled {
		return
	}

	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "membership_change",
		UserID:    actorID,
		ThreadID:  threadID,
		Action:    action,
		Result:    "success",
		Details: map[string]interface{}{
			"target_user_id": targetID,
		},
	})
}

// log 輸出審計事件
func (a *AuditService) log(event AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		a.logger.Printf("audit marshal failed: %v", err)
		return
	}
	a.logger.Printf("AUDIT: %s", data)
}
